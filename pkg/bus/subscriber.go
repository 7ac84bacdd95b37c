package bus

import "sync"

// Subscriber is a coalescing delivery slot: the broker's offer always
// succeeds immediately by overwriting any undelivered payload, so a slow
// reader never blocks the publisher and only ever observes the most
// recent snapshot for each notification.
type Subscriber struct {
	topic    string
	identity Identity

	mu      sync.Mutex
	pending interface{}
	has     bool
	closed  bool

	notify chan struct{}
}

func newSubscriber(topic string, identity Identity) *Subscriber {
	return &Subscriber{
		topic:    topic,
		identity: identity,
		notify:   make(chan struct{}, 1),
	}
}

// offer overwrites the pending payload and wakes the reader if it isn't
// already awake.
func (s *Subscriber) offer(payload interface{}) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = payload
	s.has = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Notify returns the channel that fires whenever a new payload is
// pending. Callers read the payload itself with Take.
func (s *Subscriber) Notify() <-chan struct{} {
	return s.notify
}

// Take returns and clears the pending payload, if any.
func (s *Subscriber) Take() (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has {
		return nil, false
	}
	payload := s.pending
	s.pending = nil
	s.has = false
	return payload, true
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}
