package httpserver

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/tinytelemetry/cepwatch/internal/model"
	"github.com/tinytelemetry/cepwatch/internal/stats"
	"github.com/tinytelemetry/cepwatch/internal/watch"
)

const subscriberBuffer = 256

// Broker fans released feed records out to event stream subscribers. It is
// registered as a session listener, so Released runs on the engine goroutine
// and never blocks: a subscriber whose buffer is full misses records.
type Broker struct {
	mu      sync.Mutex
	subs    map[chan model.FeedRecord]struct{}
	closed  bool
	dropped uint64
}

var _ watch.Listener = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan model.FeedRecord]struct{})}
}

// Subscribe registers a subscriber. The returned cancel func is idempotent.
func (b *Broker) Subscribe() (<-chan model.FeedRecord, func()) {
	ch := make(chan model.FeedRecord, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Subscribers returns the number of live subscribers.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Released implements watch.Listener.
func (b *Broker) Released(recs []model.FeedRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		for _, rec := range recs {
			select {
			case ch <- rec:
			default:
				b.dropped++
				if b.dropped%1000 == 1 {
					log.WithField("dropped", b.dropped).Warn("httpserver: slow feed stream subscriber")
				}
			}
		}
	}
}

// Sampled implements watch.Listener.
func (b *Broker) Sampled([]stats.Sample) {}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
