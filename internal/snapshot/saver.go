// Package snapshot persists client state as JSON in a store.Store.
//
// Saves degrade rather than fail: when the store is out of room for a
// snapshot, a lighter copy without images is tried once. If that also fails the error
// is logged and dropped, and the in-memory state stays authoritative.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dyluth/beacon/internal/logger"
	"github.com/dyluth/beacon/internal/store"
)

// Outcome describes how a save went.
type Outcome int

const (
	Saved Outcome = iota
	SavedWithoutImages
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Saved:
		return "saved"
	case SavedWithoutImages:
		return "saved_without_images"
	}
	return "failed"
}

// Saver reads and writes one value of type T under Key.
type Saver[T any] struct {
	Store store.Store
	Key   string
	// Strip returns a lighter copy of a value for the degraded retry after
	// store.ErrCapacityExceeded. Nil disables the retry.
	Strip func(T) T
}

// Save writes v. It never returns an error; the outcome says what happened.
func (s *Saver[T]) Save(ctx context.Context, v T) Outcome {
	err := s.write(ctx, v)
	if err == nil {
		return Saved
	}
	logger.Warnf("[Snapshot] failed to save %s: %v", s.Key, err)

	if s.Strip == nil || !errors.Is(err, store.ErrCapacityExceeded) {
		return Failed
	}
	if err := s.write(ctx, s.Strip(v)); err != nil {
		logger.Errorf("[Snapshot] failed to save %s without images: %v", s.Key, err)
		return Failed
	}
	logger.Event("snapshot", "saved_without_images", map[string]interface{}{"key": s.Key})
	return SavedWithoutImages
}

// Load reads the stored value. A missing or unreadable value yields the zero
// T and found=false; only store failures other than not-found are returned.
func (s *Saver[T]) Load(ctx context.Context) (v T, found bool, err error) {
	data, err := s.Store.Get(ctx, s.Key)
	if store.IsNotFound(err) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("failed to load %s: %w", s.Key, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		logger.Warnf("[Snapshot] discarding corrupt %s: %v", s.Key, err)
		var zero T
		return zero, false, nil
	}
	return v, true, nil
}

// Clear removes the stored value.
func (s *Saver[T]) Clear(ctx context.Context) error {
	return s.Store.Remove(ctx, s.Key)
}

func (s *Saver[T]) write(ctx context.Context, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", s.Key, err)
	}
	return s.Store.Set(ctx, s.Key, data)
}
