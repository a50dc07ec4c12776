// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package store

import "github.com/samber/oops"

// Error codes for store operations.
const (
	CodeSlotExists   = "STORE_SLOT_EXISTS"
	CodeSlotNotFound = "STORE_SLOT_NOT_FOUND"
	CodeEffectFailed = "STORE_EFFECT_FAILED"
	CodeStoreClosed  = "STORE_CLOSED"
)

// ErrSlotExists is returned by Create for an occupied slot.
func ErrSlotExists(slot string) error {
	return oops.In("store").Code(CodeSlotExists).With("slot", slot).
		Hint("use Update to replace the reducers of an existing store").
		Errorf("store slot %q already holds a store", slot)
}

// ErrSlotNotFound is returned when no store was created in a slot.
func ErrSlotNotFound(slot string) error {
	return oops.In("store").Code(CodeSlotNotFound).With("slot", slot).
		Errorf("no store in slot %q", slot)
}

// ErrEffectFailed wraps an effect processor failure.
func ErrEffectFailed(name, action string, cause error) error {
	return oops.In("store").Code(CodeEffectFailed).
		With("processor", name).
		With("action", action).
		Wrapf(cause, "effect processor %s failed", name)
}

// ErrStoreClosed is returned by operations on a closed store.
func ErrStoreClosed() error {
	return oops.In("store").Code(CodeStoreClosed).Errorf("store is closed")
}
