// Package timeline compiles matched shot lists into contiguous timeline
// placements and applies them atomically to a live timeline.
package timeline

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/cutroom/cutroom-server/internal/edl"
	"github.com/cutroom/cutroom-server/internal/match"
	"github.com/cutroom/cutroom-server/internal/media"
)

// Span is a half-open interval in milliseconds.
type Span struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Item is one placed video segment. Display bounds are absolute on the
// output timeline; trim bounds are source-relative within the asset.
type Item struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	Src        string `json:"src"`
	PreviewURL string `json:"preview_url,omitempty"`
	Display    Span   `json:"display"`
	Trim       Span   `json:"trim"`
	DurationMs int64  `json:"duration"`

	ShotNumber       int    `json:"shot_number"`
	ChunkID          string `json:"chunk_id"`
	ContentPreview   string `json:"content_preview,omitempty"`
	NarrativePurpose string `json:"narrative_purpose,omitempty"`
	CutReasoning     string `json:"cut_reasoning,omitempty"`
	QualityNotes     string `json:"quality_notes,omitempty"`
}

// CompileSummary reports how a shot list fared. Skips are aggregated as a
// count; individual misses never abort the batch.
type CompileSummary struct {
	TotalShots   int   `json:"total_shots"`
	Compiled     int   `json:"compiled"`
	Skipped      int   `json:"skipped"`
	SkippedShots []int `json:"skipped_shots,omitempty"`
	DurationMs   int64 `json:"duration_ms"`
}

// IDGenerator produces fresh item ids. Item ids are never derived from shot
// numbers: collisions across re-runs must be impossible. Callers that need
// deterministic ids supply their own generator.
type IDGenerator func() string

type Compiler struct {
	resolver *media.URLResolver
	newID    IDGenerator
	logger   *slog.Logger
}

func NewCompiler(resolver *media.URLResolver, newID IDGenerator, logger *slog.Logger) *Compiler {
	if newID == nil {
		newID = edl.NewID
	}
	return &Compiler{resolver: resolver, newID: newID, logger: logger}
}

// Compile places shots in shot_number order onto a fresh timeline starting
// at zero. Output display bounds are contiguous: each item begins exactly
// where the previous one ends. Unmatched shots and shots with non-positive
// duration are skipped and do not advance the cursor.
func (c *Compiler) Compile(shots []*edl.Shot, assets []*edl.MediaAsset) ([]*Item, *CompileSummary) {
	summary := &CompileSummary{TotalShots: len(shots)}
	if len(shots) == 0 {
		return nil, summary
	}

	ordered := make([]*edl.Shot, len(shots))
	copy(ordered, shots)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ShotNumber < ordered[j].ShotNumber
	})

	matcher := match.NewMatcher(assets)

	var items []*Item
	var positionMs int64

	for _, shot := range ordered {
		asset := matcher.Match(shot.ChunkID)
		if asset == nil {
			summary.Skipped++
			summary.SkippedShots = append(summary.SkippedShots, shot.ShotNumber)
			if c.logger != nil {
				c.logger.Warn("no matching asset for shot",
					"shot_number", shot.ShotNumber, "chunk_id", shot.ChunkID)
			}
			continue
		}

		startMs := secondsToMs(shot.PreciseTiming.Start)
		endMs := secondsToMs(shot.PreciseTiming.End)
		durationMs := endMs - startMs
		if durationMs <= 0 {
			summary.Skipped++
			summary.SkippedShots = append(summary.SkippedShots, shot.ShotNumber)
			if c.logger != nil {
				c.logger.Warn("skipping shot with non-positive duration",
					"shot_number", shot.ShotNumber, "duration_ms", durationMs)
			}
			continue
		}

		items = append(items, &Item{
			ID:               c.newID(),
			Type:             "video",
			Name:             itemName(shot),
			Src:              c.resolver.Resolve(asset.StorageLocation),
			PreviewURL:       previewURL(c.resolver, asset),
			Display:          Span{From: positionMs, To: positionMs + durationMs},
			Trim:             Span{From: startMs, To: endMs},
			DurationMs:       durationMs,
			ShotNumber:       shot.ShotNumber,
			ChunkID:          shot.ChunkID,
			ContentPreview:   shot.ContentPreview,
			NarrativePurpose: shot.NarrativePurpose,
			CutReasoning:     shot.CutReasoning,
			QualityNotes:     shot.QualityNotes,
		})

		positionMs += durationMs
	}

	summary.Compiled = len(items)
	summary.DurationMs = positionMs
	return items, summary
}

func secondsToMs(s float64) int64 {
	return int64(math.Round(s * 1000))
}

func itemName(shot *edl.Shot) string {
	if shot.ContentPreview == "" {
		return fmt.Sprintf("Shot %d", shot.ShotNumber)
	}
	return fmt.Sprintf("Shot %d: %s", shot.ShotNumber, shot.ContentPreview)
}

func previewURL(resolver *media.URLResolver, asset *edl.MediaAsset) string {
	if asset.ThumbnailURL != "" {
		return asset.ThumbnailURL
	}
	return resolver.Resolve(asset.StorageLocation)
}
