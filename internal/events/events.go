// Package events publishes position lifecycle events to downstream
// consumers (Redis Streams, WebSocket clients).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Maarifa007/lovable-betstream-sub000/internal/model"
)

// Event types.
const (
	TypeOpened          = "position_opened"
	TypePartiallyClosed = "position_partially_closed"
	TypeSettled         = "position_settled"
	TypeCancelled       = "position_cancelled"
)

// DefaultStream is the stream key positions events are appended to.
const DefaultStream = "positions.events"

// Event describes one committed change to a position.
type Event struct {
	Type       string               `json:"type"`
	PositionID string               `json:"position_id"`
	UserID     string               `json:"user_id"`
	MatchID    string               `json:"match_id"`
	Status     model.PositionStatus `json:"status"`
	ProfitLoss decimal.Decimal      `json:"profit_loss"` // realized by this change
	Credit     decimal.Decimal      `json:"credit"`      // returned to the account
	Balance    decimal.Decimal      `json:"balance"`     // account balance after
	Timestamp  time.Time            `json:"timestamp"`
}

// Publisher delivers events. Implementations must not block the caller for
// long; a failed publish never undoes the committed change.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// StreamPublisher appends events to a Redis stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher creates a stream publisher. The stream is trimmed to
// roughly maxLen entries; zero disables trimming.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Publish appends one event to the stream.
func (p *StreamPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type":  ev.Type,
			"event": string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}
	return nil
}

// Multi fans an event out to several publishers. Every publisher is tried;
// failures are logged and the first one is returned.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			slog.Warn("event publish failed", "type", ev.Type, "position", ev.PositionID, "err", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Recorder keeps published events in memory. Useful in tests.
type Recorder struct {
	ch chan Event
}

// NewRecorder creates a recorder that buffers up to size events.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	select {
	case r.ch <- ev:
	default:
	}
	return nil
}

// Events drains and returns everything recorded so far.
func (r *Recorder) Events() []Event {
	var out []Event
	for {
		select {
		case ev := <-r.ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}
