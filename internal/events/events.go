// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package events notifies collaborators about plugin lifecycle changes.
package events

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeReducersLoaded follows every store augmentation.
	TypeReducersLoaded Type = "reducers_loaded"
	// TypePluginUninstalled follows an extension uninstall.
	TypePluginUninstalled Type = "plugin_uninstalled"
	// TypeExtensionsReloaded follows a manifest refresh.
	TypeExtensionsReloaded Type = "extensions_reloaded"
	// TypeTranslationsChanged follows a change to the translation search paths.
	TypeTranslationsChanged Type = "translations_changed"
	// TypeTreeChanged follows a resolution that produced a different tree.
	TypeTreeChanged Type = "tree_changed"
)

// Event is a single notification.
type Event struct {
	ID        ulid.ULID `json:"id"`
	Type      Type      `json:"type"`
	Plugin    string    `json:"plugin,omitempty"`
	Names     []string  `json:"names,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID generates a monotonic ULID.
func NewID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// New builds an event with a fresh ID and timestamp.
func New(t Type, plugin string, names ...string) Event {
	return Event{ID: NewID(), Type: t, Plugin: plugin, Names: names, Timestamp: time.Now()}
}
