package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Entry is one job accepted by a MemoryQueue.
type Entry struct {
	Channel string
	Payload json.RawMessage
	Delay   time.Duration
}

// Decode unmarshals the entry payload into v.
func (e Entry) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// MemoryQueue records jobs without running them. Payloads are marshalled on enqueue so
// later mutation by the caller is not observed.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// FailWith makes every later enqueue return err.
func (q *MemoryQueue) FailWith(err error) {
	q.mu.Lock()
	q.err = err
	q.mu.Unlock()
}

func (q *MemoryQueue) Enqueue(ctx context.Context, channel string, payload any) error {
	return q.EnqueueDelayed(ctx, channel, payload, 0)
}

func (q *MemoryQueue) EnqueueDelayed(_ context.Context, channel string, payload any, delay time.Duration) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.entries = append(q.entries, Entry{Channel: channel, Payload: b, Delay: delay})
	return nil
}

// Entries returns a snapshot of everything enqueued so far.
func (q *MemoryQueue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Channel returns the entries enqueued on channel, in order.
func (q *MemoryQueue) Channel(channel string) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Entry
	for _, e := range q.entries {
		if e.Channel == channel {
			out = append(out, e)
		}
	}
	return out
}

func (q *MemoryQueue) Reset() {
	q.mu.Lock()
	q.entries = nil
	q.mu.Unlock()
}
