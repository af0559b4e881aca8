// Package match associates abstract shot chunk identifiers with concrete
// media assets. Chunk identifiers are machine-generated and only loosely
// related to stored filenames, so matching is tiered: exact first, then
// timestamp-prefix normalized, then substring as a last resort.
package match

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cutroom/cutroom-server/internal/edl"
)

var timestampPrefix = regexp.MustCompile(`^\d+-`)

// chunkSuffix splits a chunk id like "IMG_1462_chunk_1_0.0-0.0s" into its
// base name ("IMG_1462") and the generated suffix.
const chunkSeparator = "_chunk_"

// Matcher resolves chunk identifiers against a fixed asset set. Build one
// per compilation run; matching is pure and deterministic over its inputs.
type Matcher struct {
	// Normalized identifier -> asset, insertion-ordered for stable tier-3
	// iteration.
	byIdent map[string]*edl.MediaAsset
	idents  []string
}

// NewMatcher indexes the assets under every identifier they can be known by:
// the extension-stripped filename, the timestamp-prefix-stripped variant,
// and the synthetic whole-file chunk pattern.
func NewMatcher(assets []*edl.MediaAsset) *Matcher {
	m := &Matcher{byIdent: make(map[string]*edl.MediaAsset)}

	for _, asset := range assets {
		if asset.StorageLocation == "" {
			continue
		}

		base := stripExtension(asset.OriginalName)
		if base == "" {
			continue
		}
		m.add(base, asset)
		m.add(base+chunkSeparator+"1_0.0-0.0s", asset)

		if trimmed := timestampPrefix.ReplaceAllString(asset.OriginalName, ""); trimmed != asset.OriginalName {
			m.add(stripExtension(trimmed), asset)
		}
	}

	// Longer identifiers first so substring fallback prefers the most
	// specific candidate, with a lexical tie-break for determinism.
	sort.SliceStable(m.idents, func(i, j int) bool {
		if len(m.idents[i]) != len(m.idents[j]) {
			return len(m.idents[i]) > len(m.idents[j])
		}
		return m.idents[i] < m.idents[j]
	})

	return m
}

func (m *Matcher) add(ident string, asset *edl.MediaAsset) {
	if ident == "" {
		return
	}
	if _, ok := m.byIdent[ident]; ok {
		return
	}
	m.byIdent[ident] = asset
	m.idents = append(m.idents, ident)
}

// Match returns the best asset for a chunk identifier, or nil when nothing
// matches. Callers skip unmatched shots and continue; a miss is never fatal
// to the batch.
func (m *Matcher) Match(chunkID string) *edl.MediaAsset {
	if chunkID == "" {
		return nil
	}

	// Tier 1: exact identifier match.
	if asset, ok := m.byIdent[chunkID]; ok {
		return asset
	}

	// Tier 2: the chunk id's base name before the generated suffix.
	if base, _, found := strings.Cut(chunkID, chunkSeparator); found {
		if asset, ok := m.byIdent[base]; ok {
			return asset
		}
		if trimmed := timestampPrefix.ReplaceAllString(base, ""); trimmed != base {
			if asset, ok := m.byIdent[trimmed]; ok {
				return asset
			}
		}
	}

	// Tier 3: substring fallback in either direction. Heuristic; accepts
	// false-positive risk on pathological filenames in exchange for not
	// losing shots to naming drift.
	for _, ident := range m.idents {
		if strings.Contains(chunkID, ident) || strings.Contains(ident, chunkID) {
			return m.byIdent[ident]
		}
	}

	return nil
}

func stripExtension(name string) string {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return name
	}
	if strings.ContainsRune(name[dot:], '/') {
		return name
	}
	return name[:dot]
}
