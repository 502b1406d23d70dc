package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownQueue = errors.New("queue: unknown queue")

// Manager owns one Queue per job family so a slow family cannot starve
// the others.
type Manager struct {
	queues map[string]*Queue
	order  []string
}

func NewManager(queues ...*Queue) *Manager {
	m := &Manager{queues: make(map[string]*Queue)}
	for _, q := range queues {
		m.Add(q)
	}
	return m
}

func (m *Manager) Add(q *Queue) {
	if _, ok := m.queues[q.Name()]; !ok {
		m.order = append(m.order, q.Name())
	}
	m.queues[q.Name()] = q
}

func (m *Manager) Queue(name string) (*Queue, error) {
	q, ok := m.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return q, nil
}

// Names returns the registered queue names sorted alphabetically.
func (m *Manager) Names() []string {
	names := append([]string(nil), m.order...)
	sort.Strings(names)
	return names
}

func (m *Manager) Enqueue(ctx context.Context, queue, msgType string, payload interface{}, opts ...EnqueueOption) (*Message, error) {
	q, err := m.Queue(queue)
	if err != nil {
		return nil, err
	}
	return q.Enqueue(ctx, msgType, payload, opts...)
}

func (m *Manager) Status(ctx context.Context, queue string, limit int) (*Status, error) {
	q, err := m.Queue(queue)
	if err != nil {
		return nil, err
	}
	return q.Status(ctx, limit)
}

func (m *Manager) Job(ctx context.Context, queue, id string) (*Message, error) {
	q, err := m.Queue(queue)
	if err != nil {
		return nil, err
	}
	return q.Job(ctx, id)
}

// Start starts every queue, stopping the ones already started if any fails.
func (m *Manager) Start() error {
	started := make([]*Queue, 0, len(m.order))
	for _, name := range m.order {
		q := m.queues[name]
		if err := q.Start(); err != nil {
			for _, s := range started {
				_ = s.Stop(context.Background())
			}
			return fmt.Errorf("start queue %s: %w", name, err)
		}
		started = append(started, q)
	}
	return nil
}

func (m *Manager) Stop(ctx context.Context) error {
	var errs []error
	for _, name := range m.order {
		if err := m.queues[name].Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop queue %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
