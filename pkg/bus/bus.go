// Package bus is the metrics/stats publish-subscribe broker: a single
// publisher goroutine fans payloads out to per-subscriber queues that
// coalesce backpressure (most-recent-wins) instead of blocking the
// publisher or unbounded-buffering behind a slow reader.
package bus

import (
	"sync"
)

// TopicMetrics carries a map of cluster-id to sample.
const TopicMetrics = "/topic/metrics"

// TopicStats carries the system-wide aggregate.
const TopicStats = "/topic/stats"

// Identity is the subscriber context used to filter per-user delivery.
type Identity struct {
	UserID  string
	IsAdmin bool
}

// Filterer narrows a topic payload down to what an Identity is allowed to
// see. Topics with no registered Filterer are broadcast unfiltered.
type Filterer func(identity Identity, payload interface{}) interface{}

// Broker distributes published payloads to subscribers, coalescing
// per-subscriber and optionally filtering per-user.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[*Subscriber]struct{}
	filters     map[string]Filterer

	publishCh chan publishRequest
	stopCh    chan struct{}
}

type publishRequest struct {
	topic   string
	payload interface{}
}

// New constructs a Broker. Call Start to begin the distribution loop.
func New() *Broker {
	return &Broker{
		subscribers: make(map[string]map[*Subscriber]struct{}),
		filters:     make(map[string]Filterer),
		publishCh:   make(chan publishRequest, 256),
		stopCh:      make(chan struct{}),
	}
}

// RegisterFilter attaches a per-user filter to a topic; from then on,
// broadcasts on that topic reach every non-admin subscriber only as the
// filtered view.
func (b *Broker) RegisterFilter(topic string, f Filterer) {
	b.mu.Lock()
	b.filters[topic] = f
	b.mu.Unlock()
}

// Start begins the broker's single-producer distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop halts the distribution loop. Subscribers stay registered and their
// channels stay open; Unsubscribe is what closes a subscriber's channel.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Publish hands a payload to the broker's distribution loop. Publish
// never blocks the caller on a slow subscriber; it only blocks briefly if
// the internal publish queue itself is full, which indicates the broker
// loop is stalled.
func (b *Broker) Publish(topic string, payload interface{}) {
	select {
	case b.publishCh <- publishRequest{topic: topic, payload: payload}:
	case <-b.stopCh:
	}
}

// Subscribe registers a new coalescing subscriber for topic, scoped to
// identity for topics with a registered filter.
func (b *Broker) Subscribe(topic string, identity Identity) *Subscriber {
	sub := newSubscriber(topic, identity)

	b.mu.Lock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[*Subscriber]struct{})
	}
	b.subscribers[topic][sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes and closes a subscriber.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	if subs, ok := b.subscribers[sub.topic]; ok {
		delete(subs, sub)
	}
	b.mu.Unlock()
	sub.close()
}

func (b *Broker) run() {
	for {
		select {
		case req := <-b.publishCh:
			b.broadcast(req.topic, req.payload)
		case <-b.stopCh:
			return
		}
	}
}

// broadcast is the single producer for every subscriber's coalescing
// slot; subscriber delivery order within a broadcast is undefined.
func (b *Broker) broadcast(topic string, payload interface{}) {
	b.mu.RLock()
	subs := b.subscribers[topic]
	filter := b.filters[topic]
	snapshot := make([]*Subscriber, 0, len(subs))
	for sub := range subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		out := payload
		if filter != nil && !sub.identity.IsAdmin {
			out = filter(sub.identity, payload)
		}
		if out == nil {
			continue
		}
		sub.offer(out)
	}
}
