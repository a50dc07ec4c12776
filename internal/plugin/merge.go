// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin

// deepMerge returns a new map with override merged over base. Nested maps
// merge recursively; any other override value replaces the base value.
// Neither input is modified.
func deepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if ov, ok := v.(map[string]any); ok {
			if bv, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(bv, ov)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// MergeConfig merges configuration layers left to right; later layers win.
func MergeConfig(layers ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		out = deepMerge(out, layer)
	}
	return out
}
