package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const MainTrackID = "main"

var (
	ErrNotReady    = errors.New("timeline is not ready")
	ErrNoItems     = errors.New("no items to apply")
	ErrNothingTo   = errors.New("nothing to undo")
	ErrDuplicateID = errors.New("duplicate item id")
)

// Track holds item ids in display order.
type Track struct {
	ID      string   `json:"id"`
	ItemIDs []string `json:"item_ids"`
}

// State is an immutable snapshot of the timeline. Applies build a new State
// and swap it in whole; readers never observe a partially merged state.
type State struct {
	Tracks     []*Track         `json:"tracks"`
	Items      map[string]*Item `json:"items"`
	DurationMs int64            `json:"duration_ms"`
}

func newState() *State {
	return &State{Items: make(map[string]*Item)}
}

func (s *State) clone() *State {
	next := &State{
		Tracks:     make([]*Track, len(s.Tracks)),
		Items:      make(map[string]*Item, len(s.Items)),
		DurationMs: s.DurationMs,
	}
	for i, t := range s.Tracks {
		ids := make([]string, len(t.ItemIDs))
		copy(ids, t.ItemIDs)
		next.Tracks[i] = &Track{ID: t.ID, ItemIDs: ids}
	}
	for id, item := range s.Items {
		next.Items[id] = item
	}
	return next
}

func (s *State) track(id string) *Track {
	for _, t := range s.Tracks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Timeline is the live, mutable editing timeline for one project. It is an
// explicitly owned handle: callers obtain one from the Manager and pass it
// by reference, never through a package-level singleton.
//
// Both apply strategies go through a single guarded state swap, so a batch
// of items becomes visible all at once and undoes as one step.
type Timeline struct {
	mu      sync.Mutex
	state   *State
	history []*State
	ready   bool
}

func New() *Timeline {
	return &Timeline{state: newState()}
}

// SetReady marks the timeline as initialized and able to accept applies.
func (t *Timeline) SetReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = true
}

func (t *Timeline) Ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready
}

// Snapshot returns the current state. The returned value is the live
// immutable snapshot; callers must not mutate it.
func (t *Timeline) Snapshot() *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ApplyItems is the direct-state strategy: it computes the fully merged new
// state and swaps it in as one transition, recorded as a single history
// entry. Items land on trackID (MainTrackID if empty, created if absent) in
// the order given.
func (t *Timeline) ApplyItems(items []*Item, trackID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyLocked(items, trackID)
}

func (t *Timeline) applyLocked(items []*Item, trackID string) error {
	if !t.ready {
		return ErrNotReady
	}
	if len(items) == 0 {
		return ErrNoItems
	}
	if trackID == "" {
		trackID = MainTrackID
	}

	next := t.state.clone()

	track := next.track(trackID)
	if track == nil {
		track = &Track{ID: trackID}
		next.Tracks = append(next.Tracks, track)
	}

	for _, item := range items {
		if _, exists := next.Items[item.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateID, item.ID)
		}
		next.Items[item.ID] = item
		track.ItemIDs = append(track.ItemIDs, item.ID)
		if item.Display.To > next.DurationMs {
			next.DurationMs = item.Display.To
		}
	}

	t.history = append(t.history, t.state)
	t.state = next
	return nil
}

// Undo reverts the most recent apply in one step.
func (t *Timeline) Undo() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return ErrNothingTo
	}
	t.state = t.history[len(t.history)-1]
	t.history = t.history[:len(t.history)-1]
	return nil
}

// HistoryLen reports how many undoable transitions have been recorded.
func (t *Timeline) HistoryLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}

// WaitReady blocks until the timeline becomes ready, polling at the given
// interval, or until ctx is done. A deferred apply uses this instead of
// silently dropping or partially applying.
func (t *Timeline) WaitReady(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	if t.Ready() {
		return nil
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
		case <-ticker.C:
			if t.Ready() {
				return nil
			}
		}
	}
}
