package model

import (
	"sort"

	"tierkv/pkg/common"
)

// RMIModel is a two-stage recursive model: a range split picks a bucket, and
// the bucket's linear model predicts the position. Training records the worst
// under- and over-prediction so lookups can search a bounded window.
type RMIModel struct {
	globalMin common.KeyType
	globalMax common.KeyType
	fanout    int
	buckets   []*LinearModel
	minErr    int
	maxErr    int
}

func NewRMIModel(fanout int) *RMIModel {
	if fanout < 1 {
		fanout = 1
	}
	return &RMIModel{
		fanout:  fanout,
		buckets: make([]*LinearModel, fanout),
	}
}

func (rmi *RMIModel) bucket(key common.KeyType) int {
	keyRange := float64(rmi.globalMax) - float64(rmi.globalMin)
	if keyRange <= 0 {
		return 0
	}
	idx := int((float64(key) - float64(rmi.globalMin)) / keyRange * float64(rmi.fanout))
	if idx >= rmi.fanout {
		idx = rmi.fanout - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Train fits keys, which must be sorted ascending.
func (rmi *RMIModel) Train(keys []common.KeyType) {
	rmi.minErr, rmi.maxErr = 0, 0
	for i := range rmi.buckets {
		rmi.buckets[i] = NewLinearModel()
	}
	if len(keys) == 0 {
		return
	}
	rmi.globalMin = keys[0]
	rmi.globalMax = keys[len(keys)-1]

	bucketKeys := make([][]common.KeyType, rmi.fanout)
	bucketPos := make([][]int, rmi.fanout)
	for i, key := range keys {
		b := rmi.bucket(key)
		bucketKeys[b] = append(bucketKeys[b], key)
		bucketPos[b] = append(bucketPos[b], i)
	}
	for i := range rmi.buckets {
		rmi.buckets[i].TrainWithPos(bucketKeys[i], bucketPos[i])
	}

	for i, key := range keys {
		diff := i - rmi.Predict(key)
		if diff < rmi.minErr {
			rmi.minErr = diff
		}
		if diff > rmi.maxErr {
			rmi.maxErr = diff
		}
	}
}

func (rmi *RMIModel) Predict(key common.KeyType) int {
	if rmi.buckets[0] == nil {
		return 0
	}
	return rmi.buckets[rmi.bucket(key)].Predict(key)
}

// ErrorBound is the range of (true - predicted) seen over the training keys.
func (rmi *RMIModel) ErrorBound() (lo, hi int) {
	return rmi.minErr, rmi.maxErr
}

// Floor returns the index of the last key in keys that is <= key, or -1.
// keys must be the array the model was trained on. The search is confined to
// the error window when key is inside the trained range.
func Floor(m Model, keys []common.KeyType, key common.KeyType) int {
	n := len(keys)
	if n == 0 || key < keys[0] {
		return -1
	}
	if key >= keys[n-1] {
		return n - 1
	}

	lo, hi := 0, n
	if m != nil {
		pred := m.Predict(key)
		errLo, errHi := m.ErrorBound()
		// keys between trained points can sit one past either bound; the
		// window is checked below and a miss falls back to the whole array
		lo = clamp(pred+errLo-1, 0, n-1)
		hi = clamp(pred+errHi+2, 0, n)
		if keys[lo] > key || (hi < n && keys[hi] <= key) {
			lo, hi = 0, n
		}
	}
	idx := lo + sort.Search(hi-lo, func(i int) bool { return keys[lo+i] > key })
	return idx - 1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var (
	_ Model = (*RMIModel)(nil)
	_ Model = (*LinearModel)(nil)
)
