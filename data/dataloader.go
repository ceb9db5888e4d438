// Package data defines the data-source contract the training engine
// iterates over, plus an in-memory reference implementation.
package data

import (
	"errors"
	"fmt"

	"github.com/gantryml/gantry/tensor"
)

// ErrExhausted is returned by Next once a loader has produced every batch
// of the current pass. Reset starts a new pass.
var ErrExhausted = errors.New("data: loader exhausted")

// DataLoader produces a finite, restartable sequence of batches. Len is the
// number of batches in one full pass and drives both progress reporting and
// last-batch detection in the engine.
type DataLoader interface {
	// Next returns the next batch, or ErrExhausted at the end of the pass.
	Next() (tensor.Batch, error)

	// Len returns the number of batches in one pass.
	Len() int

	// Reset restarts the loader at the beginning of the data.
	Reset() error
}

// SliceLoader is a DataLoader over a fixed, in-memory slice of batches.
type SliceLoader struct {
	batches []tensor.Batch
	pos     int
}

// NewSliceLoader creates a loader over the given batches.
func NewSliceLoader(batches []tensor.Batch) (*SliceLoader, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("slice loader requires at least one batch")
	}
	return &SliceLoader{batches: batches}, nil
}

// Next returns the next batch in the slice.
func (l *SliceLoader) Next() (tensor.Batch, error) {
	if l.pos >= len(l.batches) {
		return nil, ErrExhausted
	}
	batch := l.batches[l.pos]
	l.pos++
	return batch, nil
}

// Len returns the number of batches.
func (l *SliceLoader) Len() int {
	return len(l.batches)
}

// Reset restarts the loader at the first batch.
func (l *SliceLoader) Reset() error {
	l.pos = 0
	return nil
}
