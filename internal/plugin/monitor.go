// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/mapshell/mapshell/internal/expr"
)

// MonitorRule exposes the state value at Path under Name.
type MonitorRule struct {
	Name string `json:"name" yaml:"name" koanf:"name"`
	Path string `json:"path" yaml:"path" koanf:"path"`
}

// DefaultMonitorRules are always monitored.
var DefaultMonitorRules = []MonitorRule{
	{Name: "mapType", Path: "maptype.mapType"},
	{Name: "user", Path: "security.user"},
}

var indexSegment = regexp.MustCompile(`\[(\d+)\]`)

// gjsonPath converts "layers[0].name" to "layers.0.name".
func gjsonPath(path string) string {
	return strings.TrimPrefix(indexSegment.ReplaceAllString(path, ".$1"), ".")
}

// Monitor projects application state onto the monitored paths. The last
// projection is memoized and reused while the selected values are equal.
type Monitor struct {
	rules []MonitorRule
	paths []string

	mu      sync.Mutex
	lastKey string
	last    map[string]any
}

// NewMonitor creates a monitor over the default rules plus extra.
func NewMonitor(extra ...MonitorRule) *Monitor {
	rules := append(append([]MonitorRule{}, DefaultMonitorRules...), extra...)
	paths := make([]string, len(rules))
	for i, r := range rules {
		paths[i] = gjsonPath(r.Path)
	}
	return &Monitor{rules: rules, paths: paths}
}

// Rules returns the active rules.
func (m *Monitor) Rules() []MonitorRule {
	return append([]MonitorRule(nil), m.rules...)
}

// Project returns the monitored view of state. Values outside the rule
// paths are never visible.
func (m *Monitor) Project(state map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return map[string]any{}, ErrBadState(err)
	}
	return m.ProjectJSON(raw), nil
}

// ProjectJSON is Project over an already encoded state document.
func (m *Monitor) ProjectJSON(raw []byte) map[string]any {
	results := gjson.GetManyBytes(raw, m.paths...)

	var key strings.Builder
	for _, r := range results {
		key.WriteString(r.Raw)
		key.WriteByte(0)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last != nil && key.String() == m.lastKey {
		return m.last
	}
	out := make(map[string]any, len(m.rules))
	for i, rule := range m.rules {
		if results[i].Exists() {
			out[rule.Name] = results[i].Value()
		} else {
			out[rule.Name] = nil
		}
	}
	m.lastKey = key.String()
	m.last = out
	return out
}

// StateFunc adapts a monitored view to the expression evaluator.
func StateFunc(monitored map[string]any) expr.StateFunc {
	return func(path string) any {
		return expr.Lookup(monitored, strings.Split(gjsonPath(path), ".")...)
	}
}
