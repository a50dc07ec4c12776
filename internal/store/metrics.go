// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package store

import "github.com/prometheus/client_golang/prometheus"

var effectErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mapshell_effect_errors_total",
		Help: "Total number of effect processor failures",
	},
	[]string{"processor"},
)

var effectProcessors = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "mapshell_effect_processors",
		Help: "Number of registered effect processors by state (active, muted)",
	},
	[]string{"state"},
)

// RegisterMetrics registers store metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(effectErrors, effectProcessors)
}
