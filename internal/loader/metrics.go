// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package loader

import "github.com/prometheus/client_golang/prometheus"

var pluginLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mapshell_plugin_loads_total",
		Help: "Total number of plugin module loads by source and outcome",
	},
	[]string{"source", "status"},
)

var pluginLoadDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "mapshell_plugin_load_duration_seconds",
		Help:    "Time taken to load one plugin module",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"source"},
)

// RegisterMetrics registers loader metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(pluginLoads, pluginLoadDuration)
}
