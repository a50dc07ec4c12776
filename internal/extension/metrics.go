// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package extension

import "github.com/prometheus/client_golang/prometheus"

var (
	fetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapshell_extension_fetches_total",
		Help: "Manifest and bundle downloads by kind and status.",
	}, []string{"kind", "status"})

	installedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mapshell_extensions_installed",
		Help: "Extensions currently listed in the active manifest.",
	})
)

// RegisterMetrics registers the extension metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(fetches, installedGauge)
}
