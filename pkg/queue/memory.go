package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memQueue struct {
	ready     []string // head is next
	active    []string
	delayed   map[string]time.Time
	completed []string // newest first
	failed    []string
	records   map[string]Message
	expires   map[string]time.Time
	signal    chan struct{}
}

func newMemQueue() *memQueue {
	return &memQueue{
		delayed: make(map[string]time.Time),
		records: make(map[string]Message),
		expires: make(map[string]time.Time),
		signal:  make(chan struct{}, 1),
	}
}

func (q *memQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// MemoryBroker is an in-process Broker. It backs single-process
// deployments without Redis and the package tests.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	now    func() time.Time
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[string]*memQueue),
		now:    time.Now,
	}
}

func (b *MemoryBroker) queue(name string) *memQueue {
	q, ok := b.queues[name]
	if !ok {
		q = newMemQueue()
		b.queues[name] = q
	}
	return q
}

func (b *MemoryBroker) Ping(context.Context) error { return nil }

func (b *MemoryBroker) Add(_ context.Context, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(msg.Queue)
	q.records[msg.ID] = *msg
	if msg.State == StateDelayed {
		q.delayed[msg.ID] = msg.RunAt
		return nil
	}
	q.ready = append(q.ready, msg.ID)
	q.notify()
	return nil
}

func (b *MemoryBroker) Reserve(ctx context.Context, queue string, timeout time.Duration) (*Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		q := b.queue(queue)
		if len(q.ready) > 0 {
			id := q.ready[0]
			q.ready = q.ready[1:]
			q.active = append(q.active, id)
			msg := q.records[id]
			b.mu.Unlock()
			return &msg, nil
		}
		signal := q.signal
		b.mu.Unlock()

		select {
		case <-signal:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (b *MemoryBroker) Update(_ context.Context, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.queue(msg.Queue).records[msg.ID] = *msg
	return nil
}

func (b *MemoryBroker) Retry(_ context.Context, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(msg.Queue)
	q.active = remove(q.active, msg.ID)
	q.records[msg.ID] = *msg
	q.delayed[msg.ID] = msg.RunAt
	return nil
}

func (b *MemoryBroker) Finish(_ context.Context, msg *Message, retention int, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(msg.Queue)
	q.active = remove(q.active, msg.ID)
	q.records[msg.ID] = *msg
	if ttl > 0 {
		q.expires[msg.ID] = b.now().Add(ttl)
	}

	history := &q.completed
	if msg.State == StateFailed {
		history = &q.failed
	}
	*history = append([]string{msg.ID}, *history...)
	if len(*history) > retention {
		for _, id := range (*history)[retention:] {
			delete(q.records, id)
			delete(q.expires, id)
		}
		*history = (*history)[:retention]
	}
	return nil
}

func (b *MemoryBroker) PromoteDue(_ context.Context, queue string, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	type due struct {
		id string
		at time.Time
	}
	var ready []due
	for id, at := range q.delayed {
		if !at.After(now) {
			ready = append(ready, due{id, at})
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].at.Before(ready[j].at) })

	for _, d := range ready {
		delete(q.delayed, d.id)
		q.ready = append(q.ready, d.id)
	}
	if len(ready) > 0 {
		q.notify()
	}
	return len(ready), nil
}

func (b *MemoryBroker) Recover(_ context.Context, queue string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	n := len(q.active)
	q.ready = append(append([]string{}, q.active...), q.ready...)
	q.active = nil
	if n > 0 {
		q.notify()
	}
	return n, nil
}

func (b *MemoryBroker) Get(_ context.Context, queue, id string) (*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	msg, ok := q.records[id]
	if !ok || b.expired(q, id) {
		return nil, ErrJobNotFound
	}
	return &msg, nil
}

func (b *MemoryBroker) Status(_ context.Context, queue string, limit int) (*Status, error) {
	if limit <= 0 {
		limit = 20
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q := b.queue(queue)
	return &Status{
		Queue:     queue,
		Waiting:   int64(len(q.ready)),
		Delayed:   int64(len(q.delayed)),
		Active:    b.collect(q, q.active, limit),
		Pending:   b.collect(q, q.ready, limit),
		Completed: b.collect(q, q.completed, limit),
		Failed:    b.collect(q, q.failed, limit),
	}, nil
}

func (b *MemoryBroker) collect(q *memQueue, ids []string, limit int) []Message {
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		if len(out) == limit {
			break
		}
		if msg, ok := q.records[id]; ok && !b.expired(q, id) {
			out = append(out, msg)
		}
	}
	return out
}

func (b *MemoryBroker) expired(q *memQueue, id string) bool {
	at, ok := q.expires[id]
	return ok && b.now().After(at)
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
