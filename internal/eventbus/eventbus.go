// Package eventbus serialises every outbound signal (state transitions,
// detection results, progress, telemetry, errors) into one ordered stream
// per subscriber. It never drops a non-telemetry event; a slow consumer
// applies backpressure to the producer instead (spec §4.10).
package eventbus

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultBufferSize is the channel depth handed to a subscriber whose
// options don't override it. Large enough to absorb a burst of mission
// progress events without stalling the producer on a momentarily busy
// shell.
const DefaultBufferSize = 256

// SubscribeOptions configures one subscriber's delivery semantics.
type SubscribeOptions struct {
	// BufferSize overrides DefaultBufferSize when > 0.
	BufferSize int
	// LatestOnly streams, when set, are coalesced: a new sample on that
	// stream name replaces any not-yet-delivered one instead of queuing
	// behind it. Non-telemetry events are never coalesced regardless of
	// this set.
	LatestOnly map[string]bool
}

// Token identifies a subscription for Unsubscribe.
type Token uint64

type subscriber struct {
	token  Token
	ch     chan Event
	opts   SubscribeOptions
	mu     sync.Mutex
	latest map[string]Event
}

// Bus is the ordered, backpressured event stream described by spec §4.10.
type Bus struct {
	logger *log.Logger

	mu        sync.RWMutex
	nextToken Token
	subs      map[Token]*subscriber
}

// New creates an empty Bus.
func New(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{logger: logger, subs: make(map[Token]*subscriber)}
}

// Subscribe registers a new listener and returns its channel and token.
// Registration is idempotent in the sense that each call yields an
// independent subscription; callers that want a single logical listener
// should keep the returned Token and call Unsubscribe exactly once.
func (b *Bus) Subscribe(opts SubscribeOptions) (<-chan Event, Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}

	b.nextToken++
	token := b.nextToken
	sub := &subscriber{
		token:  token,
		ch:     make(chan Event, size),
		opts:   opts,
		latest: make(map[string]Event),
	}
	b.subs[token] = sub
	return sub.ch, token
}

// Unsubscribe releases a subscriber's channel immediately; further
// Publish calls no longer block on it.
func (b *Bus) Unsubscribe(token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[token]; ok {
		delete(b.subs, token)
		close(sub.ch)
	}
}

// Publish delivers ev to every current subscriber, preserving
// happened-before order relative to the triggering inbound frame (the
// caller is expected to invoke Publish synchronously from the code path
// that observed that frame). Publish blocks until every subscriber's
// buffer has room, which is how the bus applies backpressure to the
// producer rather than silently dropping events.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s, ev)
	}
}

func (b *Bus) deliver(ctx context.Context, s *subscriber, ev Event) {
	stream := ev.Stream()
	if stream != "" && s.opts.LatestOnly[stream] {
		b.deliverCoalesced(s, stream, ev)
		return
	}

	select {
	case s.ch <- ev:
	case <-ctx.Done():
	}
}

// deliverCoalesced implements the "at most the newest value per stream
// between any two reads" rule: it always records the newest sample, then
// makes a best-effort, non-blocking attempt to wake a reader with a
// marker. If the buffer is momentarily full the marker is dropped, not
// the sample — a reader that drains the channel later still resolves to
// whatever is newest at that point via Resolve().
func (b *Bus) deliverCoalesced(s *subscriber, stream string, ev Event) {
	s.mu.Lock()
	s.latest[stream] = ev
	s.mu.Unlock()

	select {
	case s.ch <- coalescedMarker{stream: stream, sub: s}:
	default:
	}
}

// coalescedMarker is handed to the subscriber in place of the raw event;
// Resolve() returns the most recent sample for its stream at read time.
type coalescedMarker struct {
	stream string
	sub    *subscriber
}

func (c coalescedMarker) Kind() Kind       { return KindTelemetrySample }
func (c coalescedMarker) Stream() string   { return c.stream }
func (c coalescedMarker) Time() time.Time  { return time.Now() }

// Resolve returns the newest event queued for this marker's stream. It is
// safe to call even if another reader already resolved an earlier marker
// for the same stream; it simply returns whatever is current.
func (c coalescedMarker) Resolve() Event {
	c.sub.mu.Lock()
	defer c.sub.mu.Unlock()
	return c.sub.latest[c.stream]
}
