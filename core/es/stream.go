package es

import (
	"context"
	"sync"
)

// DeliverPolicy selects where a subscription starts.
type DeliverPolicy string

const (
	// DeliverAllPolicy replays the committed log from the start position
	// before switching to live events.
	DeliverAllPolicy DeliverPolicy = "all"
	// DeliverNewPolicy delivers only events committed after subscribing.
	DeliverNewPolicy DeliverPolicy = "new"
)

// SubscribeFilter narrows a subscription. Empty fields match everything.
type SubscribeFilter struct {
	StreamType string
	StreamID   string
	EventType  string
}

type SubscribeOpts struct {
	deliverPolicy DeliverPolicy
	startPos      uint64
	filters       []SubscribeFilter
}

func (s *SubscribeOpts) DeliverPolicy() DeliverPolicy { return s.deliverPolicy }
func (s *SubscribeOpts) StartPos() uint64             { return s.startPos }
func (s *SubscribeOpts) Filters() []SubscribeFilter   { return s.filters }

type SubscribeOption func(opts *SubscribeOpts)

func NewSubscribeOpts(opts ...SubscribeOption) SubscribeOpts {
	options := SubscribeOpts{deliverPolicy: DeliverNewPolicy}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

func WithDeliverPolicy(policy DeliverPolicy) SubscribeOption {
	return func(opts *SubscribeOpts) { opts.deliverPolicy = policy }
}

func WithStartPos(pos uint64) SubscribeOption {
	return func(opts *SubscribeOpts) { opts.startPos = pos }
}

func WithFilters(filters ...SubscribeFilter) SubscribeOption {
	return func(opts *SubscribeOpts) { opts.filters = append(opts.filters, filters...) }
}

// Subscription is a live cursor over the committed log. Events arrive in
// global-position order on Chan. MaxPos is the head position at subscribe
// time; a consumer that has processed past MaxPos has caught up.
type Subscription interface {
	Chan() <-chan Envelope
	MaxPos() uint64
	Cancel()
}

func matchFilters(env Envelope, filters []SubscribeFilter) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if matchFilter(env, f) {
			return true
		}
	}
	return false
}

func matchFilter(env Envelope, f SubscribeFilter) bool {
	if f.StreamType != "" && env.StreamType != f.StreamType {
		return false
	}
	if f.StreamID != "" && env.StreamID != f.StreamID {
		return false
	}
	if f.EventType != "" && env.Type != f.EventType {
		return false
	}
	return true
}

// === buffered subscription ===

// bufferedSubscription decouples appenders from consumers: dispatch enqueues
// without blocking, a pump goroutine forwards to the out channel in order.
type bufferedSubscription struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Envelope
	closed   bool
	done     chan struct{}
	out      chan Envelope
	maxPos   uint64
	filters  []SubscribeFilter
	onCancel func()
	once     sync.Once
}

func newBufferedSubscription(maxPos uint64, filters []SubscribeFilter, onCancel func()) *bufferedSubscription {
	s := &bufferedSubscription{
		done:     make(chan struct{}),
		out:      make(chan Envelope),
		maxPos:   maxPos,
		filters:  filters,
		onCancel: onCancel,
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

func (s *bufferedSubscription) Chan() <-chan Envelope { return s.out }
func (s *bufferedSubscription) MaxPos() uint64        { return s.maxPos }

func (s *bufferedSubscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.cond.Signal()
		if s.onCancel != nil {
			s.onCancel()
		}
	})
}

func (s *bufferedSubscription) enqueue(events ...Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, e := range events {
		if matchFilters(e, s.filters) {
			s.queue = append(s.queue, e)
		}
	}
	s.cond.Signal()
}

func (s *bufferedSubscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

var _ Subscription = (*bufferedSubscription)(nil)

// CancelOnDone cancels sub when ctx is done.
func CancelOnDone(ctx context.Context, sub Subscription) {
	context.AfterFunc(ctx, sub.Cancel)
}
