package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"knowledgebase/internal/logging"
)

// Config configures the bus.
type Config struct {
	SubscriberBuffer int
	CleanupInterval  time.Duration
	MetricsInterval  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SubscriberBuffer: 256,
		CleanupInterval:  time.Minute,
		MetricsInterval:  30 * time.Second,
	}
}

// Subscription is a live handle to a topic-filtered event stream. Publish
// never blocks: a full channel drops the oldest buffered event and
// increments Dropped.
type Subscription struct {
	ID      string
	topics  map[Topic]bool // nil/empty = all topics
	ch      chan Event
	Dropped *int64
	mu      sync.Mutex
	closed  bool
}

// Events returns the channel to range over.
func (s *Subscription) Events() <-chan Event { return s.ch }

// DropCount returns how many events have been dropped for this subscriber
// since it subscribed, so the client can trigger a refresh.
func (s *Subscription) DropCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.Dropped
}

func (s *Subscription) matches(topic Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	return s.topics[topic]
}

// Bus is the typed pub/sub hub. Multiple subscribers receive each matching
// event independently; publishers never block.
type Bus struct {
	cfg    Config
	logger logging.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription

	metricsMu       sync.Mutex
	published       int64
	delivered       int64
	dropped         int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a Bus. Call Start to begin the background metrics routine
// and Stop to drain it.
func New(cfg Config, logger logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		cfg:    cfg,
		logger: logger.WithComponent("eventbus"),
		subs:   make(map[string]*Subscription),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the background metrics routine.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.metricsRoutine()
}

// Stop cancels background routines and closes every subscriber channel.
func (b *Bus) Stop() {
	b.once.Do(func() {
		b.cancel()
		b.mu.Lock()
		for _, s := range b.subs {
			s.mu.Lock()
			if !s.closed {
				close(s.ch)
				s.closed = true
			}
			s.mu.Unlock()
		}
		b.subs = make(map[string]*Subscription)
		b.mu.Unlock()
	})
	b.wg.Wait()
}

// Subscribe creates a bounded subscription. topics == nil subscribes to
// every topic.
func (b *Bus) Subscribe(topics ...Topic) *Subscription {
	buf := b.cfg.SubscriberBuffer
	if buf <= 0 {
		buf = 256
	}
	tset := make(map[Topic]bool, len(topics))
	for _, t := range topics {
		tset[t] = true
	}
	dropped := new(int64)
	sub := &Subscription{
		ID:      uuid.New().String(),
		topics:  tset,
		ch:      make(chan Event, buf),
		Dropped: dropped,
	}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	sub.mu.Lock()
	if !sub.closed {
		close(sub.ch)
		sub.closed = true
	}
	sub.mu.Unlock()
}

// Publish fans an event out to every matching subscriber. Never blocks: a
// full subscriber channel drops its oldest event to make room, rather than
// dropping the new one silently without a trace; the subscriber's
// DropCount is incremented either way.
func (b *Bus) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for _, sub := range b.subs {
		if !sub.matches(evt.Topic) {
			continue
		}
		b.send(sub, evt)
		delivered++
	}

	b.metricsMu.Lock()
	b.published++
	b.delivered += int64(delivered)
	b.metricsMu.Unlock()
}

// send delivers evt to sub, dropping the oldest queued event first if the
// buffer is full.
func (b *Bus) send(sub *Subscription, evt Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	for {
		select {
		case sub.ch <- evt:
			return
		default:
			select {
			case <-sub.ch:
				*sub.Dropped++
				b.metricsMu.Lock()
				b.dropped++
				b.metricsMu.Unlock()
			default:
				return
			}
		}
	}
}

// Metrics is a point-in-time snapshot of bus throughput.
type Metrics struct {
	Published           int64
	Delivered           int64
	Dropped             int64
	ActiveSubscriptions int
}

// Snapshot returns current bus metrics.
func (b *Bus) Snapshot() Metrics {
	b.metricsMu.Lock()
	m := Metrics{Published: b.published, Delivered: b.delivered, Dropped: b.dropped}
	b.metricsMu.Unlock()

	b.mu.RLock()
	m.ActiveSubscriptions = len(b.subs)
	b.mu.RUnlock()
	return m
}

func (b *Bus) metricsRoutine() {
	defer b.wg.Done()
	interval := b.cfg.MetricsInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m := b.Snapshot()
			b.logger.Debug("eventbus metrics", "published", m.Published, "delivered", m.Delivered, "dropped", m.Dropped, "subscribers", m.ActiveSubscriptions)
		case <-b.ctx.Done():
			return
		}
	}
}
