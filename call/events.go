package call

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/softphone/metrics"
	"github.com/opd-ai/softphone/network"
	"github.com/opd-ai/softphone/quality"
	"github.com/sirupsen/logrus"
)

// Event is implemented only by the event types in this package.
type Event interface {
	Session() string
	isEvent()
}

// StateChanged reports a state transition.
type StateChanged struct {
	SessionID string
	From      State
	To        State
	Meta      CallMeta
	At        time.Time
}

// QualityUpdated carries one quality monitor sample.
type QualityUpdated struct {
	SessionID string
	Metrics   quality.Metrics
}

// NetworkWarning reports a non-fatal transport warning being raised or
// cleared.
type NetworkWarning struct {
	SessionID string
	Name      string
	Active    bool
	At        time.Time
}

// CodecChanged reports a codec profile selection.
type CodecChanged struct {
	SessionID string
	From      string
	To        string
	Reason    string
}

// VoiceActivity reports a local speech edge.
type VoiceActivity struct {
	SessionID string
	Speaking  bool
	At        time.Time
}

// DurationTick reports the connected duration once per second.
type DurationTick struct {
	SessionID string
	Seconds   int
}

// NetworkProfileChanged reports new transport parameters for the call.
type NetworkProfileChanged struct {
	SessionID string
	Profile   network.Profile
	At        time.Time
}

func (e StateChanged) Session() string   { return e.SessionID }
func (e QualityUpdated) Session() string { return e.SessionID }
func (e NetworkWarning) Session() string { return e.SessionID }
func (e CodecChanged) Session() string   { return e.SessionID }
func (e VoiceActivity) Session() string  { return e.SessionID }
func (e DurationTick) Session() string   { return e.SessionID }

func (e NetworkProfileChanged) Session() string { return e.SessionID }

func (StateChanged) isEvent()   {}
func (QualityUpdated) isEvent() {}
func (NetworkWarning) isEvent() {}
func (CodecChanged) isEvent()   {}
func (VoiceActivity) isEvent()  {}
func (DurationTick) isEvent()   {}

func (NetworkProfileChanged) isEvent() {}

// Bus fans events out to subscribers. Publish never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			n := sub.dropped.Add(1)
			metrics.RecordDroppedEvent()
			if n == 1 || n%100 == 0 {
				logrus.WithFields(logrus.Fields{
					"function":   "Bus.Publish",
					"subscriber": id,
					"dropped":    n,
					"session_id": ev.Session(),
				}).Warn("Subscriber lagging, event dropped")
			}
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
