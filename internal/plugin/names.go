// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin

import "strings"

// nameSuffix is the suffix registry keys carry. "Map" and "MapPlugin"
// name the same plugin.
const nameSuffix = "Plugin"

// SimpleName strips the registry suffix: "MapPlugin" -> "Map".
func SimpleName(name string) string {
	if trimmed, ok := strings.CutSuffix(name, nameSuffix); ok && trimmed != "" {
		return trimmed
	}
	return name
}

// NormalizeName adds the registry suffix: "Map" -> "MapPlugin".
func NormalizeName(name string) string {
	if strings.HasSuffix(name, nameSuffix) {
		return name
	}
	return name + nameSuffix
}

// SameName reports whether a and b name the same plugin.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}
