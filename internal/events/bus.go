package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type identifies an event. Values match the LVA_EVENT log names.
type Type string

const (
	WakeWordDetected    Type = "WAKE_WORD_DETECTED"
	WakeWordMuted       Type = "WAKE_WORD_MUTED"
	Listening           Type = "LISTENING"
	TTSPlaying          Type = "TTS_PLAYING"
	TTSResponseFinished Type = "TTS_RESPONSE_FINISHED"
	Announce            Type = "ANNOUNCE"
	TimerFinished       Type = "TIMER_FINISHED"
	TimerStopped        Type = "TIMER_STOPPED"
	Stop                Type = "STOP"
	Muted               Type = "MUTED"
	Unmuted             Type = "UNMUTED"
	Connected           Type = "CONNECTED"
	Disconnected        Type = "DISCONNECTED"
	WakeWordsChanged    Type = "WAKE_WORDS_CHANGED"
)

// Event is a single published occurrence
type Event struct {
	Type Type           `json:"type"`
	Data map[string]any `json:"data,omitempty"`
	Time time.Time      `json:"time"`
}

// Subscription receives events until cancelled
type Subscription struct {
	id     uint64
	events chan Event
	bus    *Bus
	once   sync.Once
}

// Events returns the receive channel. It is closed on Cancel.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Cancel removes the subscription from its bus
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.remove(s.id)
		close(s.events)
	})
}

// Bus is a non-blocking pub/sub fan-out. Slow subscribers lose events.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	buffer  int
	now     func() time.Time
	dropped atomic.Uint64
}

// NewBus creates a bus whose subscribers buffer up to buffer events
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 32
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		now:    time.Now,
	}
}

// Subscribe registers a new subscriber
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		events: make(chan Event, b.buffer),
		bus:    b,
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers an event to every subscriber without blocking
func (b *Bus) Publish(t Type, data map[string]any) {
	ev := Event{Type: t, Data: data, Time: b.now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.events <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns the number of events lost to full subscriber buffers
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
