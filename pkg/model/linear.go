package model

import (
	"tierkv/pkg/common"
)

// LinearModel is a least-squares fit of position against key.
type LinearModel struct {
	Slope     float64
	Intercept float64
	minErr    int
	maxErr    int
	n         float64
	sumX      float64
	sumY      float64
	sumXY     float64
	sumXX     float64
}

func NewLinearModel() *LinearModel {
	return &LinearModel{}
}

// Train fits keys to their indices 0..len(keys)-1.
func (lm *LinearModel) Train(keys []common.KeyType) {
	positions := make([]int, len(keys))
	for i := range positions {
		positions[i] = i
	}
	lm.TrainWithPos(keys, positions)
}

// TrainWithPos fits keys to explicit positions.
func (lm *LinearModel) TrainWithPos(keys []common.KeyType, positions []int) {
	lm.n, lm.sumX, lm.sumY, lm.sumXY, lm.sumXX = 0, 0, 0, 0, 0
	for i, key := range keys {
		lm.add(float64(key), float64(positions[i]))
	}
	lm.solve()

	lm.minErr, lm.maxErr = 0, 0
	for i, key := range keys {
		diff := positions[i] - lm.Predict(key)
		if diff < lm.minErr {
			lm.minErr = diff
		}
		if diff > lm.maxErr {
			lm.maxErr = diff
		}
	}
}

// Update folds one more point into the fit. ErrorBound is not widened.
func (lm *LinearModel) Update(key common.KeyType, pos int) {
	lm.add(float64(key), float64(pos))
	lm.solve()
}

func (lm *LinearModel) add(x, y float64) {
	lm.n++
	lm.sumX += x
	lm.sumY += y
	lm.sumXY += x * y
	lm.sumXX += x * x
}

func (lm *LinearModel) solve() {
	if lm.n == 0 {
		lm.Slope, lm.Intercept = 0, 0
		return
	}
	denominator := lm.n*lm.sumXX - lm.sumX*lm.sumX
	if denominator == 0 {
		// one distinct x: predict the mean position
		lm.Slope = 0
		lm.Intercept = lm.sumY / lm.n
		return
	}
	lm.Slope = (lm.n*lm.sumXY - lm.sumX*lm.sumY) / denominator
	lm.Intercept = (lm.sumY - lm.Slope*lm.sumX) / lm.n
}

func (lm *LinearModel) Predict(key common.KeyType) int {
	return int(lm.Slope*float64(key) + lm.Intercept)
}

// ErrorBound is the range of (true - predicted) over the last trained set.
func (lm *LinearModel) ErrorBound() (lo, hi int) {
	return lm.minErr, lm.maxErr
}
