package store

import "sync"

// subscriberHub fans appended records out to subscribers. Each subscriber
// owns a dedicated goroutine draining an ordered queue, so handlers run
// outside the log's append mutex and a slow handler never blocks the
// appender or other subscribers. Records are delivered in append order and
// are never dropped while the subscription is active.
type subscriberHub[T any] struct {
	mu   sync.Mutex
	subs map[uint64]*subscriber[T]
	next uint64
}

type subscriber[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	closed  bool
	handler func(T)
}

func newSubscriberHub[T any]() *subscriberHub[T] {
	return &subscriberHub[T]{subs: make(map[uint64]*subscriber[T])}
}

// subscribe registers handler for every record published from now on and
// returns a cancel function. Cancel is idempotent and waits for no in-flight
// handler; queued records not yet handled at cancel time are discarded.
func (h *subscriberHub[T]) subscribe(handler func(T)) (cancel func()) {
	s := &subscriber[T]{handler: handler}
	s.cond = sync.NewCond(&s.mu)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = s
	h.mu.Unlock()

	go s.run()

	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
		s.mu.Lock()
		s.closed = true
		s.cond.Signal()
		s.mu.Unlock()
	}
}

// publish enqueues the record for every current subscriber. Called by the
// log while holding its append mutex; only cheap queue appends happen here.
func (h *subscriberHub[T]) publish(records ...T) {
	h.mu.Lock()
	subs := make([]*subscriber[T], 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		if !s.closed {
			s.queue = append(s.queue, records...)
			s.cond.Signal()
		}
		s.mu.Unlock()
	}
}

func (s *subscriber[T]) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, rec := range batch {
			s.handler(rec)
		}
	}
}
