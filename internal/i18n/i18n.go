// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package i18n tracks translation search paths and resolves locale files.
package i18n

import (
	"cmp"
	"net/http"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

// LocaleParam is the query parameter used to select a locale.
const LocaleParam = "locale"

// DefaultPath is the search path of the host translations.
const DefaultPath = "translations"

var defaultSupported = []language.Tag{
	language.MustParse("en-US"),
	language.MustParse("it-IT"),
	language.MustParse("fr-FR"),
	language.MustParse("de-DE"),
	language.MustParse("es-ES"),
}

// Catalog is the ordered set of translation search paths plus the locales
// they are expected to provide.
type Catalog struct {
	mu        sync.RWMutex
	paths     []string
	supported []language.Tag
	matcher   language.Matcher
}

// NewCatalog creates a catalog searching DefaultPath. The first supported
// tag is the fallback; with none given a built-in list starting at en-US is
// used.
func NewCatalog(supported ...language.Tag) *Catalog {
	if len(supported) == 0 {
		supported = defaultSupported
	}
	tags := slices.Clone(supported)
	return &Catalog{
		paths:     []string{DefaultPath},
		supported: tags,
		matcher:   language.NewMatcher(tags),
	}
}

// Default returns the fallback locale.
func (c *Catalog) Default() language.Tag {
	return c.supported[0]
}

// Supported returns a copy of the supported locales.
func (c *Catalog) Supported() []language.Tag {
	return slices.Clone(c.supported)
}

// AddPath appends a search path. It reports false if already present.
func (c *Catalog) AddPath(path string) bool {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if slices.Contains(c.paths, path) {
		return false
	}
	c.paths = append(c.paths, path)
	return true
}

// RemovePath deletes a search path. It reports false if it was absent.
func (c *Catalog) RemovePath(path string) bool {
	path = strings.TrimRight(path, "/")
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.Index(c.paths, path)
	if i < 0 {
		return false
	}
	c.paths = slices.Delete(c.paths, i, i+1)
	return true
}

// Paths returns the search paths in registration order.
func (c *Catalog) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.paths)
}

// Match picks the best supported locale for the given preferences, which
// may be tags or an Accept-Language header value.
func (c *Catalog) Match(prefs ...string) language.Tag {
	tags := preferences(prefs)
	if len(tags) == 0 {
		return c.Default()
	}
	_, idx, conf := c.matcher.Match(tags...)
	if conf == language.No {
		return c.Default()
	}
	return c.supported[idx]
}

type weighted struct {
	tag language.Tag
	q   float32
}

// preferences parses every comma separated entry on its own so one
// unknown subtag only drops its own entry. Entries are ordered by
// descending q, keeping header order on ties; q=0 entries are dropped.
func preferences(prefs []string) []language.Tag {
	var entries []weighted
	for _, p := range prefs {
		for _, part := range strings.Split(p, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			tags, qs, err := language.ParseAcceptLanguage(part)
			if err != nil {
				continue
			}
			for i, tag := range tags {
				if qs[i] > 0 {
					entries = append(entries, weighted{tag: tag, q: qs[i]})
				}
			}
		}
	}
	slices.SortStableFunc(entries, func(a, b weighted) int {
		return cmp.Compare(b.q, a.q)
	})
	tags := make([]language.Tag, len(entries))
	for i, e := range entries {
		tags[i] = e.tag
	}
	return tags
}

// FromRequest resolves the locale of a request from the locale query
// parameter, then the Accept-Language header.
func (c *Catalog) FromRequest(r *http.Request) language.Tag {
	if r == nil {
		return c.Default()
	}
	if v := strings.TrimSpace(r.URL.Query().Get(LocaleParam)); v != "" {
		if tag, err := language.Parse(v); err == nil {
			return c.Match(tag.String())
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		return c.Match(accept)
	}
	return c.Default()
}

// Files lists the translation file of tag in every search path.
func (c *Catalog) Files(tag language.Tag) []string {
	name := "data." + tag.String() + ".json"
	paths := c.Paths()
	files := make([]string, len(paths))
	for i, p := range paths {
		files[i] = p + "/" + name
	}
	return files
}
