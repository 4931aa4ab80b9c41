// Package model holds learned position models for sorted key arrays.
package model

import "tierkv/pkg/common"

// Model maps a key to its expected position in the sorted array it was
// trained on. The true position of any trained key lies within ErrorBound of
// the prediction.
type Model interface {
	Train(keys []common.KeyType)
	Predict(key common.KeyType) int
	ErrorBound() (lo, hi int)
}
