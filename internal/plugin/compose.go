// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin

import (
	"cmp"
	"math"
	"slices"
)

// Candidate is an active plugin as seen by container placement. Every
// candidate is both a potential child and a potential container.
type Candidate struct {
	Name  string
	ID    string
	Index int
	// IsDefault applies when the candidate acts as a container.
	IsDefault bool
	// Containers maps container simple names to the merged spec.
	Containers map[string]ContainerSpec
	// ShowIn is nil when not configured; HideFrom likewise.
	ShowIn   []string
	HideFrom []string
}

// Placement is a candidate placed into a container ("" for the root).
type Placement struct {
	Candidate *Candidate
	Container string
	Spec      ContainerSpec
}

func (c *Candidate) canContain(child *Candidate) (ContainerSpec, bool) {
	if child == c {
		return ContainerSpec{}, false
	}
	spec, ok := child.Containers[c.Name]
	return spec, ok
}

// accepts applies showIn, hideFrom and isDefault of child against c.
func (c *Candidate) accepts(child *Candidate) bool {
	shown := listHas(child.ShowIn, c.ID) ||
		listHas(child.ShowIn, c.Name) ||
		(child.ShowIn == nil && c.IsDefault)
	hidden := listHas(child.HideFrom, c.ID) || listHas(child.HideFrom, c.Name)
	return shown && !hidden
}

func listHas(list []string, v string) bool {
	return v != "" && slices.Contains(list, v)
}

// eligibleContainers lists the candidates child may be placed into.
func eligibleContainers(child *Candidate, all []*Candidate) []*Candidate {
	var out []*Candidate
	for _, c := range all {
		if _, ok := c.canContain(child); ok && c.accepts(child) {
			out = append(out, c)
		}
	}
	return out
}

// WinningContainer returns the container child is rendered in: the
// eligible container with the highest priority, earliest declared on ties.
func WinningContainer(child *Candidate, all []*Candidate) (*Candidate, bool) {
	var winner *Candidate
	best := math.MinInt
	for _, c := range eligibleContainers(child, all) {
		p := child.Containers[c.Name].Priority
		if winner == nil || p > best || (p == best && c.Index < winner.Index) {
			winner, best = c, p
		}
	}
	return winner, winner != nil
}

// GetItems returns the ordered children of container. A child appears only
// in its winning container unless its spec for container sets DoNotHide.
func GetItems(container *Candidate, all []*Candidate) []Placement {
	var items []Placement
	for _, child := range all {
		spec, ok := container.canContain(child)
		if !ok || !container.accepts(child) {
			continue
		}
		if !spec.DoNotHide {
			if w, _ := WinningContainer(child, all); w != container {
				continue
			}
		}
		items = append(items, Placement{Candidate: child, Container: container.Name, Spec: spec})
	}
	SortPlacements(items)
	return items
}

// RootItems returns the candidates no container accepts. They render at
// the root so that failing to match a container never drops a plugin.
func RootItems(all []*Candidate) []Placement {
	var items []Placement
	for _, c := range all {
		if len(eligibleContainers(c, all)) == 0 {
			items = append(items, Placement{Candidate: c})
		}
	}
	SortPlacements(items)
	return items
}

// SortPlacements orders by position ascending (unset last), priority
// descending, then declaration index. The sort is stable.
func SortPlacements(items []Placement) {
	slices.SortStableFunc(items, comparePlacements)
}

func comparePlacements(a, b Placement) int {
	if c := cmp.Compare(positionKey(a.Spec.Position), positionKey(b.Spec.Position)); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Spec.Priority, a.Spec.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.Candidate.Index, b.Candidate.Index)
}

func positionKey(p *int) float64 {
	if p == nil {
		return math.Inf(1)
	}
	return float64(*p)
}
