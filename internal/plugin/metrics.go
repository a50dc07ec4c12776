// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin

import "github.com/prometheus/client_golang/prometheus"

var resolveDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "mapshell_resolve_duration_seconds",
		Help:    "Time spent resolving a plugin configuration list into a descriptor tree",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	},
)

var droppedPlugins = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mapshell_resolve_dropped_total",
		Help: "Configured plugins left out of a resolution pass, by reason",
	},
	[]string{"reason"},
)

// Reasons a plugin is left out of a pass.
const (
	DropUnknown    = "unknown"
	DropRemoved    = "removed"
	DropDisabled   = "disabled"
	DropHidden     = "hidden"
	DropDeferred   = "deferred"
	DropNotEnabled = "not_enabled"
	DropCycle      = "cycle"
	DropUnrendered = "unrendered"
)

// RegisterMetrics registers plugin resolution metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(resolveDuration, droppedPlugins)
}
