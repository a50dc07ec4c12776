// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package store

import (
	"context"
	"sync"
)

// DefaultSlot is the slot the application store lives in.
const DefaultSlot = "persisted.store"

// Slots keeps stores by name so that later augmentation calls can find
// the store an earlier Create built.
type Slots struct {
	opts []Option

	mu     sync.RWMutex
	stores map[string]*Store
}

// NewSlots creates an empty slot table. opts apply to every created store.
func NewSlots(opts ...Option) *Slots {
	return &Slots{opts: opts, stores: make(map[string]*Store)}
}

// Create builds a store into slot.
func (s *Slots) Create(slot string, cfg Config) (*Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.stores[slot]; exists {
		return nil, ErrSlotExists(slot)
	}
	st := New(cfg, s.opts...)
	s.stores[slot] = st
	return st, nil
}

// Get returns the store in slot.
func (s *Slots) Get(slot string) (*Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stores[slot]
	if !ok {
		return nil, ErrSlotNotFound(slot)
	}
	return st, nil
}

// Update replaces the reducer and processor set of the store in slot.
func (s *Slots) Update(ctx context.Context, slot string, cfg Config) error {
	st, err := s.Get(slot)
	if err != nil {
		return err
	}
	st.Replace(ctx, cfg)
	return nil
}

// Augment adds to the store in slot and returns the injected reducer names.
func (s *Slots) Augment(ctx context.Context, slot string, cfg Config) ([]string, error) {
	st, err := s.Get(slot)
	if err != nil {
		return nil, err
	}
	return st.Augment(ctx, cfg), nil
}

// Close closes every store.
func (s *Slots) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, st := range s.stores {
		st.Close()
		delete(s.stores, name)
	}
}
