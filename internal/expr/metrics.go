// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package expr

import "github.com/prometheus/client_golang/prometheus"

var expressionErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mapshell_expression_errors_total",
		Help: "Total number of plugin configuration expressions that failed to evaluate",
	},
	[]string{"kind"},
)

// RegisterMetrics registers expression metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(expressionErrors)
}
