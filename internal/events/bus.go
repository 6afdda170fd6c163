package events

import (
	"strings"
	"sync"
)

const (
	defaultSubscriberCapacity = 256
	defaultBacklogLimit       = 128
	defaultDedupeWindow       = 1024
)

// BusOption customizes Bus construction.
type BusOption func(*Bus)

// Bus delivers execution events to per-run subscribers with buffering,
// deduplication, and bounded channel semantics. Subscribing with an empty
// execution ID receives every event.
type Bus struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      map[string][]Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	dropped      int
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
}

// Subscription represents an active bus subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewBus constructs a bus with sane defaults.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers:  map[string]map[*subscriber]struct{}{},
		backlog:      map[string][]Event{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// BusWithLogger injects a logger for drop/diagnostic messages.
func BusWithLogger(logger Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// BusWithSubscriberCapacity overrides the buffered channel size per subscriber.
func BusWithSubscriberCapacity(capacity int) BusOption {
	return func(b *Bus) {
		if capacity > 0 {
			b.channelSize = capacity
		}
	}
}

// BusWithBacklogLimit overrides the backlog size for pre-subscription buffering.
func BusWithBacklogLimit(limit int) BusOption {
	return func(b *Bus) {
		if limit > 0 {
			b.backlogLimit = limit
		}
	}
}

// Subscribe registers for events keyed by execution ID ("" for all runs).
func (b *Bus) Subscribe(executionID string) Subscription {
	key := strings.TrimSpace(executionID)
	sub := newSubscriber(b.channelSize, b.onDrop)
	var backlog []Event
	b.mu.Lock()
	if b.subscribers[key] == nil {
		b.subscribers[key] = map[*subscriber]struct{}{}
	}
	b.subscribers[key][sub] = struct{}{}
	if key != "" {
		if existing := b.backlog[key]; len(existing) > 0 {
			backlog = append(backlog, existing...)
			delete(b.backlog, key)
		}
	}
	b.mu.Unlock()
	for _, event := range backlog {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			b.removeSubscriber(key, sub)
		},
	}
}

// HandleEvent satisfies the Sink interface so buses can chain.
func (b *Bus) HandleEvent(event Event) error {
	b.Publish(event)
	return nil
}

// Publish delivers the event to matching subscribers, or buffers it for the
// run when nobody listens yet. Duplicate event IDs inside the dedupe window
// are ignored.
func (b *Bus) Publish(event Event) {
	if event.EventID != "" && b.isDuplicate(event.EventID) {
		return
	}
	key := strings.TrimSpace(event.ExecutionID)
	b.mu.RLock()
	subs := b.snapshotSubscribers(key)
	subs = append(subs, b.snapshotSubscribers("")...)
	b.mu.RUnlock()
	if len(subs) == 0 && key != "" {
		b.bufferEvent(key, event)
		return
	}
	for _, sub := range subs {
		sub.deliver(event)
	}
}

// Dropped reports how many events were discarded on saturated subscribers.
func (b *Bus) Dropped() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

func (b *Bus) onDrop(event Event) {
	b.mu.Lock()
	b.dropped++
	b.mu.Unlock()
	if b.logger != nil {
		b.logger.Printf("events: subscriber full, dropping %s for %s", event.Type, event.ExecutionID)
	}
}

func (b *Bus) snapshotSubscribers(key string) []*subscriber {
	live := b.subscribers[key]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (b *Bus) removeSubscriber(key string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.subscribers[key]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subscribers, key)
		}
	}
	sub.close()
}

func (b *Bus) bufferEvent(key string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	queue := b.backlog[key]
	if len(queue) >= b.backlogLimit {
		queue = queue[1:]
		if b.logger != nil {
			b.logger.Printf("events: backlog drop for %s (limit %d)", key, b.backlogLimit)
		}
	}
	queue = append(queue, event)
	b.backlog[key] = queue
}

func (b *Bus) isDuplicate(eventID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.recentIDs[eventID]; ok {
		return true
	}
	b.recentIDs[eventID] = struct{}{}
	b.recentOrder = append(b.recentOrder, eventID)
	if len(b.recentOrder) > b.dedupeWindow {
		oldest := b.recentOrder[0]
		b.recentOrder = b.recentOrder[1:]
		delete(b.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	ch      chan Event
	onDrop  func(Event)
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, onDrop func(Event)) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		onDrop: onDrop,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

// deliver holds closeMu across the send so a concurrent close cannot shut
// the channel between the closed check and the send.
func (s *subscriber) deliver(event Event) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		if s.onDrop != nil {
			s.onDrop(event)
		}
	}
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
