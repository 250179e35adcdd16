// Package events is the notification port. Publishing is fire and forget:
// the engine stays correct with no listener attached.
package events

import (
	"context"
	"sync"
	"time"

	"stakeplay-backend/internal/logger"
)

const (
	TypeBalanceUpdate    = "balance_update"
	TypeGameResult       = "game_result"
	TypeActivationUpdate = "activation_update"
	TypeTicketSold       = "jackpot:ticket_sold"
	TypeWinnerAnnounced  = "jackpot:winner_announced"
)

type Event struct {
	Type string `json:"type"`
	// UserID targets one user. Empty means broadcast.
	UserID    string `json:"user_id,omitempty"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

func New(eventType, userID string, data any) Event {
	return Event{Type: eventType, UserID: userID, Data: data, Timestamp: time.Now().Unix()}
}

type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout delivers to every notifier and logs failures instead of returning
// them, so one broken listener never blocks another.
type Fanout struct {
	targets []Notifier
}

func NewFanout(targets ...Notifier) *Fanout {
	return &Fanout{targets: targets}
}

func (f *Fanout) Publish(ctx context.Context, ev Event) error {
	for _, t := range f.targets {
		if err := t.Publish(ctx, ev); err != nil {
			logger.Warn("Failed to publish event", "type", ev.Type, "error", err)
		}
	}
	return nil
}

// Emit publishes and swallows the error after logging it.
func Emit(ctx context.Context, n Notifier, ev Event) {
	if n == nil {
		return
	}
	if err := n.Publish(ctx, ev); err != nil {
		logger.Warn("Failed to publish event", "type", ev.Type, "user", ev.UserID, "error", err)
	}
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType filters recorded events by type.
func (r *Recorder) OfType(eventType string) []Event {
	out := []Event{}
	for _, ev := range r.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
