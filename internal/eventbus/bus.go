// Package eventbus is an in-memory, non-blocking fan-out used to decouple
// producers (jobs, delivery, handlers) from observers (debug logging, tests).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published across the app.
const (
	JobStarted  = "job.started"
	JobFinished = "job.finished"
	JobFailed   = "job.failed"
	JobSkipped  = "job.skipped"
	JobDropped  = "job.dropped"

	DeliveryQueued  = "notifier.queued"
	DeliverySent    = "notifier.sent"
	DeliveryFailed  = "notifier.failed"
	DeliveryDropped = "notifier.dropped"
	DeliveryDeduped = "notifier.deduped"

	TaskAdded         = "task.added"
	TaskStatusChanged = "task.status"
	ReminderArmed     = "reminder.armed"
	ReminderFired     = "reminder.fired"
)

// Event is a small in-memory signal. Publish never blocks; slow subscribers
// lose events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch under us.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

// Dropped reports how many events slow subscribers missed.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish is a nil-safe helper for optional buses.
func Publish(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Data: data})
}
