// Package notifier is the in-process pub/sub fan-out for resolution and
// status events. See spec.md §4.I.
package notifier

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resolvecore/resolver/pkg/obs/logging"
)

// Defaults from spec.md §4.I/§6.
const (
	DefaultBufferSize   = 1024
	DefaultGracePeriod  = 60 * time.Second
	DefaultBlockTimeout = 2 * time.Second
)

// EventType enumerates the kinds of events the Notifier fans out.
type EventType string

const (
	EventProposalReady   EventType = "proposal_ready"
	EventStatusChanged   EventType = "status_changed"
	EventOverflowWarning EventType = "overflow_warning"
)

// Event is one notification fanned out to subscribers.
type Event struct {
	Type          EventType
	IncidentID    string
	ProposalID    string
	CorrelationID string
	Timestamp     time.Time
	Attributes    map[string]string
}

// OverflowPolicy governs what happens when a subscription's buffer is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued event to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the incoming event, keeping the queue as-is.
	DropNewest
	// Block blocks the publisher up to a deadline, then falls back to
	// DropOldest and emits an overflow_warning event.
	Block
)

// Filter selects which published events a Subscription receives. A nil
// field matches anything.
type Filter struct {
	Types      []EventType
	IncidentID string
}

func (f Filter) matches(e Event) bool {
	if f.IncidentID != "" && f.IncidentID != e.IncidentID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// Subscription is a single consumer's bounded event queue.
type Subscription struct {
	id             string
	filter         Filter
	policy         OverflowPolicy
	events         chan Event
	mu             sync.Mutex
	closed         bool
	disconnectedAt time.Time
}

// ID returns the subscription's identifier.
func (s *Subscription) ID() string { return s.id }

// Events returns the channel consumers read from.
func (s *Subscription) Events() <-chan Event { return s.events }

// Notifier is the in-process pub/sub hub.
type Notifier struct {
	mu           sync.RWMutex
	subs         map[string]*Subscription
	bufferSize   int
	gracePeriod  time.Duration
	blockTimeout time.Duration
	logger       *zap.Logger
	nextID       int64
	sinks        []Sink
}

// Sink receives every published event regardless of subscription filters
// (e.g. the Slack sink).
type Sink interface {
	Notify(Event) error
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithBufferSize overrides DefaultBufferSize for new subscriptions.
func WithBufferSize(n int) Option {
	return func(no *Notifier) { no.bufferSize = n }
}

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(no *Notifier) { no.gracePeriod = d }
}

// WithBlockTimeout overrides DefaultBlockTimeout for Block-policy subscriptions.
func WithBlockTimeout(d time.Duration) Option {
	return func(no *Notifier) { no.blockTimeout = d }
}

// WithLogger attaches a zap logger for overflow/drop diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(no *Notifier) { no.logger = l }
}

// WithSink registers a fan-out sink invoked on every Publish, independent
// of per-subscription filtering.
func WithSink(s Sink) Option {
	return func(no *Notifier) { no.sinks = append(no.sinks, s) }
}

// New constructs a Notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{
		subs:         map[string]*Subscription{},
		bufferSize:   DefaultBufferSize,
		gracePeriod:  DefaultGracePeriod,
		blockTimeout: DefaultBlockTimeout,
		logger:       zap.NewNop(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Subscribe registers a new Subscription matching filter, applying policy
// on buffer overflow.
func (n *Notifier) Subscribe(filter Filter, policy OverflowPolicy) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	sub := &Subscription{
		id:     idFor(n.nextID),
		filter: filter,
		policy: policy,
		events: make(chan Event, n.bufferSize),
	}
	n.subs[sub.id] = sub
	return sub
}

// Unsubscribe immediately discards a Subscription, closing its channel.
func (n *Notifier) Unsubscribe(sub *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removeLocked(sub.id)
}

func (n *Notifier) removeLocked(id string) {
	sub, ok := n.subs[id]
	if !ok {
		return
	}
	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.events)
	}
	sub.mu.Unlock()
	delete(n.subs, id)
}

// Disconnect marks sub as disconnected, starting its grace-period clock.
// Events continue to queue; if the grace period elapses before Reconnect
// or the next Publish pass observes it, the subscription is discarded.
func (n *Notifier) Disconnect(sub *Subscription) {
	sub.mu.Lock()
	sub.disconnectedAt = time.Now()
	sub.mu.Unlock()
}

// Reconnect clears a subscription's disconnected marker.
func (n *Notifier) Reconnect(sub *Subscription) {
	sub.mu.Lock()
	sub.disconnectedAt = time.Time{}
	sub.mu.Unlock()
}

// Publish fans event out to every matching subscription in FIFO order per
// subscription, applying each subscription's overflow policy, then invokes
// every registered Sink. Sink errors are logged, not returned: spec.md
// §4.G step 10 treats Notifier.Publish as fire-and-forget from the
// Resolver's perspective.
func (n *Notifier) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	n.mu.Lock()
	n.expireDisconnectedLocked()
	targets := make([]*Subscription, 0, len(n.subs))
	for _, sub := range n.subs {
		if sub.filter.matches(event) {
			targets = append(targets, sub)
		}
	}
	n.mu.Unlock()

	for _, sub := range targets {
		n.deliver(sub, event)
	}

	for _, sink := range n.sinks {
		if err := sink.Notify(event); err != nil {
			n.logger.Warn("notifier sink failed", logging.Fields{"event_type": string(event.Type)}.ToZap()...)
		}
	}
}

func (n *Notifier) expireDisconnectedLocked() {
	now := time.Now()
	for id, sub := range n.subs {
		sub.mu.Lock()
		expired := !sub.disconnectedAt.IsZero() && now.Sub(sub.disconnectedAt) > n.gracePeriod
		sub.mu.Unlock()
		if expired {
			n.removeLocked(id)
		}
	}
}

func (n *Notifier) deliver(sub *Subscription, event Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}

	select {
	case sub.events <- event:
		return
	default:
	}

	switch sub.policy {
	case DropNewest:
		n.logger.Warn("notifier dropping newest event, subscription buffer full",
			logging.Fields{"subscription_id": sub.id, "event_type": string(event.Type)}.ToZap()...)
		return
	case DropOldest:
		n.dropOldestAndEnqueue(sub, event)
	case Block:
		select {
		case sub.events <- event:
			return
		case <-time.After(n.blockTimeout):
			n.logger.Warn("notifier block timeout exceeded, falling back to drop-oldest",
				logging.Fields{"subscription_id": sub.id, "event_type": string(event.Type)}.ToZap()...)
			warning := Event{Type: EventOverflowWarning, IncidentID: event.IncidentID, CorrelationID: event.CorrelationID, Timestamp: time.Now().UTC()}
			n.dropOldestAndEnqueue(sub, event)
			n.dropOldestAndEnqueue(sub, warning)
		}
	}
}

// dropOldestAndEnqueue discards the single oldest queued event to make room
// for event, then enqueues it. Caller holds sub.mu.
func (n *Notifier) dropOldestAndEnqueue(sub *Subscription, event Event) {
	select {
	case <-sub.events:
	default:
	}
	select {
	case sub.events <- event:
	default:
		// Buffer refilled by a concurrent reader faster than we could
		// re-enqueue; drop event rather than block under the lock.
	}
}

func idFor(n int64) string {
	const letters = "0123456789abcdef"
	b := make([]byte, 16)
	for i := len(b) - 1; i >= 0 && n > 0; i-- {
		b[i] = letters[n%16]
		n /= 16
	}
	return "sub_" + string(b)
}
