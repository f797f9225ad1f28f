// Package events publishes territory outcomes to downstream consumers such as
// the reward system. Publishing is best effort; the ledger is authoritative.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Event kinds.
const (
	KindTileCaptured    = "tile.captured"
	KindContestEntered  = "contest.entered"
	KindContestResolved = "contest.resolved"
	KindDecaySwept      = "decay.swept"
)

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "hexturf:events"

const publishTimeout = 2 * time.Second

// Event is one published outcome.
type Event struct {
	ID   string    `json:"id"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
	Data any       `json:"data"`
}

// New stamps an event with a fresh ID.
func New(kind string, at time.Time, data any) Event {
	return Event{ID: uuid.NewString(), Kind: kind, At: at.UTC(), Data: data}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes events to the structured log.
type LogPublisher struct{}

// Publish logs e.
func (LogPublisher) Publish(_ context.Context, e Event) error {
	slog.Info("event", "id", e.ID, "kind", e.Kind, "data", e.Data)
	return nil
}

// RedisPublisher publishes JSON-encoded events on a Redis channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher connects to addr and verifies the connection.
func NewRedisPublisher(ctx context.Context, addr, channel string) (*RedisPublisher, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

// Publish sends e to the channel.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Kind, err)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Kind, err)
	}
	return nil
}

// Close releases the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Recorder keeps published events in memory. Useful for tests and debugging.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish stores e.
func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds published so far, in order.
func (r *Recorder) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Emit publishes e and logs failures. Callers use it after the authoritative
// write has committed, so a publish error must not fail the request.
func Emit(ctx context.Context, p Publisher, e Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, e); err != nil {
		slog.Warn("event publish failed", "kind", e.Kind, "id", e.ID, "error", err)
	}
}
