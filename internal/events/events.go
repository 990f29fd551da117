// Package events carries board change notifications between the service
// that commits a mutation and whoever streams it to clients.
package events

import (
	"context"
	"log/slog"
	"sync"
)

type Kind string

const (
	BoardCreated  Kind = "board.created"
	BoardUpdated  Kind = "board.updated"
	BoardDeleted  Kind = "board.deleted"
	ColumnCreated Kind = "column.created"
	ColumnUpdated Kind = "column.updated"
	ColumnDeleted Kind = "column.deleted"
	TaskCreated   Kind = "task.created"
	TaskUpdated   Kind = "task.updated"
	TaskDeleted   Kind = "task.deleted"
)

// BoardEvent says that a board reached Version through a mutation of Kind.
type BoardEvent struct {
	BoardUUID string `json:"board_uuid"`
	OwnerID   string `json:"owner_id"`
	Version   int64  `json:"version"`
	Kind      Kind   `json:"kind"`
	ItemUUID  string `json:"item_uuid,omitempty"`
}

// Bus publishes events and hands out subscriptions. Subscriptions end and
// their channel is closed when ctx is cancelled.
type Bus interface {
	Publish(ctx context.Context, event BoardEvent) error
	Subscribe(ctx context.Context) (<-chan BoardEvent, error)
	Close() error
}

const subscriberBuffer = 64

// Local is an in-process Bus for single-instance deployments and tests.
type Local struct {
	mu     sync.Mutex
	subs   map[chan BoardEvent]struct{}
	closed bool
	log    *slog.Logger
}

func NewLocal(log *slog.Logger) *Local {
	if log == nil {
		log = slog.Default()
	}
	return &Local{subs: make(map[chan BoardEvent]struct{}), log: log}
}

func (l *Local) Publish(_ context.Context, event BoardEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- event:
		default:
			l.log.Warn("events: dropping event for slow subscriber", "board", event.BoardUUID, "kind", event.Kind)
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context) (<-chan BoardEvent, error) {
	ch := make(chan BoardEvent, subscriberBuffer)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		close(ch)
		return ch, nil
	}
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.remove(ch)
	}()
	return ch, nil
}

func (l *Local) remove(ch chan BoardEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[ch]; ok {
		delete(l.subs, ch)
		close(ch)
	}
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for ch := range l.subs {
		delete(l.subs, ch)
		close(ch)
	}
	return nil
}
