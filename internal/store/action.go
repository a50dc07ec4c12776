// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package store is the central state store: named state slices, each owned
// by one reducer, plus an effect bus of asynchronous processors that react
// to dispatched actions. Reducers and processors can be added to a running
// store without discarding existing state, and processors can be muted and
// unmuted by owning plugin.
package store

import (
	"context"
)

// Action types the store itself dispatches.
const (
	// ActionInit is dispatched once when a store is created.
	ActionInit = "@@mapshell/INIT"
	// ActionReducersLoaded is dispatched after augmentation. Its payload is
	// the []string of reducer names that were injected.
	ActionReducersLoaded = "REDUCERS_LOADED"
)

// Action is a dispatched state change request.
type Action struct {
	Type    string         `json:"type"`
	Payload any            `json:"payload,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Reducer computes the next value of one slice. It receives nil when the
// slice has no value yet and must return its input unchanged for actions
// it does not handle.
type Reducer func(state any, action Action) any

// GetState returns the current root state.
type GetState func() map[string]any

// Epic is an effect processor. It runs asynchronously for every dispatched
// action and may return follow-up actions, which are dispatched unless the
// processor was muted in the meantime.
type Epic func(ctx context.Context, action Action, getState GetState) ([]Action, error)

// Dispatch sends an action through the store.
type Dispatch func(ctx context.Context, action Action)

// Middleware wraps the dispatch chain.
type Middleware func(next Dispatch) Dispatch
