package timeline

import (
	"context"
	"errors"
)

// AddItemsEvent is the event-batch apply strategy: one event carries the
// entire compiled item list, and the loop folds the whole payload into a
// single state transition. It is never expanded into per-item events.
type AddItemsEvent struct {
	Items   []*Item
	TrackID string

	done chan error
}

var ErrLoopStopped = errors.New("timeline event loop is not running")

// EventLoop serializes batch applies against one timeline through a channel.
// Equivalent to ApplyItems in effect; only the delivery mechanism differs.
type EventLoop struct {
	timeline *Timeline
	events   chan *AddItemsEvent
	stopped  chan struct{}
}

func NewEventLoop(t *Timeline) *EventLoop {
	return &EventLoop{
		timeline: t,
		events:   make(chan *AddItemsEvent),
		stopped:  make(chan struct{}),
	}
}

// Run consumes events until ctx is done. Each event is applied as one
// atomic transition; the dispatcher receives the apply result.
func (l *EventLoop) Run(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.events:
			ev.done <- l.timeline.ApplyItems(ev.Items, ev.TrackID)
		}
	}
}

// Dispatch submits one add-multiple event and waits for the apply result.
func (l *EventLoop) Dispatch(ctx context.Context, ev *AddItemsEvent) error {
	ev.done = make(chan error, 1)

	select {
	case l.events <- ev:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
