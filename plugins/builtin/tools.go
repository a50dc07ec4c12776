// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package builtin

import (
	"context"
	"sync/atomic"

	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/store"
)

// Action types of the lazily loaded tools.
const (
	ActionMeasureChanged = "MEASURE_CHANGED"
	ActionPrintRequested = "PRINT_REQUESTED"
	ActionPrintSubmitted = "PRINT_SUBMITTED"
)

// Stats counts lazy tool activity.
type Stats struct {
	MeasureLoads atomic.Int32
	PrintLoads   atomic.Int32
}

func measureTool(stats *Stats) plugin.LoadFunc {
	return func(context.Context) (*plugin.Implementation, error) {
		if stats != nil {
			stats.MeasureLoads.Add(1)
		}
		return &plugin.Implementation{
			Component: component("Measure"),
			Reducers: map[string]store.Reducer{
				"measurement": func(state any, action store.Action) any {
					if action.Type == ActionMeasureChanged {
						return action.Payload
					}
					if state == nil {
						return map[string]any{}
					}
					return state
				},
			},
		}, nil
	}
}

func printTool(stats *Stats) plugin.LoadFunc {
	return func(context.Context) (*plugin.Implementation, error) {
		if stats != nil {
			stats.PrintLoads.Add(1)
		}
		return &plugin.Implementation{
			Component: component("Print"),
			Reducers: map[string]store.Reducer{
				"print": func(state any, action store.Action) any {
					if action.Type == ActionPrintSubmitted {
						return map[string]any{"submitted": true}
					}
					if state == nil {
						return map[string]any{"submitted": false}
					}
					return state
				},
			},
			Epics: map[string]store.Epic{
				"printSubmit": func(_ context.Context, a store.Action, _ store.GetState) ([]store.Action, error) {
					if a.Type != ActionPrintRequested {
						return nil, nil
					}
					return []store.Action{{Type: ActionPrintSubmitted}}, nil
				},
			},
		}, nil
	}
}
