// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package store

import "slices"

// sliceSet is the registry of named state slices. It is not safe for
// concurrent use; Store serializes access with its own lock.
type sliceSet struct {
	order    []string
	reducers map[string]Reducer
	// dropped keys are deleted from the root state on the next reduce.
	dropped map[string]struct{}
}

func newSliceSet(reducers map[string]Reducer) *sliceSet {
	s := &sliceSet{
		reducers: make(map[string]Reducer, len(reducers)),
		dropped:  make(map[string]struct{}),
	}
	for _, name := range sortedKeys(reducers) {
		s.add(name, reducers[name])
	}
	return s
}

// add registers a reducer. An existing name is left untouched and add
// reports false.
func (s *sliceSet) add(name string, r Reducer) bool {
	if r == nil {
		return false
	}
	if _, exists := s.reducers[name]; exists {
		return false
	}
	s.reducers[name] = r
	s.order = append(s.order, name)
	delete(s.dropped, name)
	return true
}

// remove unregisters a reducer; its slice disappears on the next reduce.
func (s *sliceSet) remove(name string) bool {
	if _, exists := s.reducers[name]; !exists {
		return false
	}
	delete(s.reducers, name)
	s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
	s.dropped[name] = struct{}{}
	return true
}

func (s *sliceSet) has(name string) bool {
	_, ok := s.reducers[name]
	return ok
}

func (s *sliceSet) names() []string {
	return slices.Clone(s.order)
}

// reduce builds a new root map. Keys without a reducer keep their value,
// so slices owned by the hosting application survive augmentation.
func (s *sliceSet) reduce(prev map[string]any, action Action) map[string]any {
	next := make(map[string]any, len(prev)+len(s.order))
	for k, v := range prev {
		if _, gone := s.dropped[k]; gone {
			continue
		}
		next[k] = v
	}
	clear(s.dropped)
	for _, name := range s.order {
		next[name] = s.reducers[name](prev[name], action)
	}
	return next
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
