package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"MarketPull/pkg/logger"

	"github.com/google/uuid"
)

// QueueMode defines the operation mode of the queue.
type QueueMode int

const (
	ModeProducerConsumer QueueMode = iota
	ModeProducerOnly
)

// Event describes one job lifecycle transition.
type Event struct {
	Queue    string        `json:"queue"`
	JobID    string        `json:"job_id"`
	Type     string        `json:"type"`
	State    State         `json:"state"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// Observer receives lifecycle events. Implementations must not block.
type Observer func(Event)

// Queue runs the workers of one job family on top of a Broker.
type Queue struct {
	name      string
	logger    *logger.Logger
	config    QueueConfig
	broker    Broker
	mode      QueueMode
	jobs      map[string]Job
	observers []Observer
	now       func() time.Time

	mu        sync.RWMutex
	isRunning bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// Option configures Queue.
type Option func(*Queue)

// WithMode sets producer-only or producer-consumer operation.
func WithMode(mode QueueMode) Option {
	return func(q *Queue) {
		q.mode = mode
	}
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(q *Queue) {
		if o != nil {
			q.observers = append(q.observers, o)
		}
	}
}

func NewQueue(name string, lgr *logger.Logger, cfg QueueConfig, broker Broker, opts ...Option) *Queue {
	cfg.normalize()
	q := &Queue{
		name:   name,
		logger: lgr.With(logger.String("queue", name)),
		config: cfg,
		broker: broker,
		jobs:   make(map[string]Job),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Name() string { return q.name }

// Config returns the effective configuration.
func (q *Queue) Config() QueueConfig { return q.config }

// RegisterJob registers a handler for its message type.
func (q *Queue) RegisterJob(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.jobs[job.Type()]; exists {
		q.logger.Warn("job already registered", logger.String("job", job.Name()))
		return
	}
	q.jobs[job.Type()] = job
	q.logger.Debug("job registered",
		logger.String("job", job.Name()),
		logger.String("type", job.Type()))
}

// Start verifies the broker and, unless producer-only, recovers jobs left
// active by a previous run and starts the workers and the delay promoter.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.isRunning {
		return fmt.Errorf("queue %s already running", q.name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.broker.Ping(ctx); err != nil {
		return err
	}

	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.isRunning = true

	if q.mode == ModeProducerOnly {
		q.logger.Info("queue producer started")
		return nil
	}

	if n, err := q.broker.Recover(ctx, q.name); err != nil {
		q.logger.Warn("recover active jobs failed", logger.Error(err))
	} else if n > 0 {
		q.logger.Info("recovered interrupted jobs", logger.Int("count", n))
	}

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	q.wg.Add(1)
	go q.promoter()

	q.logger.Info("queue started", logger.Int("workers", q.config.Workers))
	return nil
}

// Stop cancels running handlers and waits for workers to exit.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		q.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		q.logger.Info("queue stopped")
		return nil
	}
}

// Enqueue stores a new job. In producer-consumer mode the type must have a
// registered handler.
func (q *Queue) Enqueue(ctx context.Context, msgType string, payload interface{}, opts ...EnqueueOption) (*Message, error) {
	q.mu.RLock()
	running := q.isRunning
	_, known := q.jobs[msgType]
	q.mu.RUnlock()

	if !running {
		return nil, ErrQueueStopped
	}
	if q.mode != ModeProducerOnly && !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, msgType)
	}

	raw, err := marshalRaw(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	now := q.now()
	msg := &Message{
		ID:          uuid.NewString(),
		Queue:       q.name,
		Type:        msgType,
		Payload:     raw,
		State:       StateQueued,
		MaxAttempts: q.config.MaxAttempts,
		EnqueuedAt:  now,
		RunAt:       now,
	}
	for _, opt := range opts {
		opt(msg)
	}
	if msg.RunAt.After(now) {
		msg.State = StateDelayed
	}

	if err := q.broker.Add(ctx, msg); err != nil {
		return nil, err
	}
	q.emit(Event{Queue: q.name, JobID: msg.ID, Type: msgType, State: msg.State})
	return msg, nil
}

// Job returns the stored record of one job.
func (q *Queue) Job(ctx context.Context, id string) (*Message, error) {
	return q.broker.Get(ctx, q.name, id)
}

// Status returns a snapshot of the queue with up to limit jobs per list.
func (q *Queue) Status(ctx context.Context, limit int) (*Status, error) {
	return q.broker.Status(ctx, q.name, limit)
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		default:
		}

		msg, err := q.broker.Reserve(q.ctx, q.name, q.config.PollInterval)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			q.logger.Error("reserve failed", logger.Int("worker_id", id), logger.Error(err))
			q.sleep(time.Second)
			continue
		}
		if msg == nil {
			continue
		}
		q.process(msg)
	}
}

func (q *Queue) promoter() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.broker.PromoteDue(q.ctx, q.name, q.now()); err != nil && !errors.Is(err, context.Canceled) {
				q.logger.Error("promote delayed jobs", logger.Error(err))
			}
		}
	}
}

func (q *Queue) process(msg *Message) {
	q.mu.RLock()
	job, exists := q.jobs[msg.Type]
	q.mu.RUnlock()

	// A broker write below uses a fresh context so bookkeeping still lands
	// when the queue is stopping.
	bg := context.Background()

	if !exists {
		q.fail(bg, msg, Permanent(fmt.Errorf("%w: %s", ErrUnknownJobType, msg.Type)), 0)
		return
	}

	started := q.now()
	msg.State = StateActive
	msg.Attempts++
	msg.StartedAt = &started
	msg.FailedReason = ""
	if err := q.broker.Update(bg, msg); err != nil {
		q.logger.Warn("mark active failed", logger.String("id", msg.ID), logger.Error(err))
	}
	q.emit(Event{Queue: q.name, JobID: msg.ID, Type: msg.Type, State: StateActive, Attempt: msg.Attempts})

	ctx := withProgress(q.ctx, func(_ context.Context, v interface{}) error {
		raw, err := marshalRaw(v)
		if err != nil {
			return err
		}
		msg.Progress = raw
		return q.broker.Update(bg, msg)
	})
	if q.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.config.JobTimeout)
		defer cancel()
	}

	result, err := q.run(ctx, job, msg)
	elapsed := q.now().Sub(started)

	if err != nil {
		if errors.Is(err, context.Canceled) && q.ctx.Err() != nil {
			// Shutdown interrupted the job; Recover on the next start
			// puts it back on the ready list.
			q.logger.Warn("job interrupted by shutdown",
				logger.String("id", msg.ID),
				logger.String("job", job.Name()))
			return
		}
		q.fail(bg, msg, err, elapsed)
		return
	}

	raw, err := marshalRaw(result)
	if err != nil {
		q.logger.Warn("marshal result failed", logger.String("id", msg.ID), logger.Error(err))
	}
	finished := q.now()
	msg.State = StateCompleted
	msg.Result = raw
	msg.FinishedAt = &finished
	if err := q.broker.Finish(bg, msg, q.config.Retention, q.config.RecordTTL); err != nil {
		q.logger.Error("finish job failed", logger.String("id", msg.ID), logger.Error(err))
	}

	q.logger.Info("job completed",
		logger.String("id", msg.ID),
		logger.String("job", job.Name()),
		logger.Int("attempt", msg.Attempts),
		logger.Duration("elapsed_ms", elapsed))
	q.emit(Event{Queue: q.name, JobID: msg.ID, Type: msg.Type, State: StateCompleted, Attempt: msg.Attempts, Duration: elapsed})
}

func (q *Queue) run(ctx context.Context, job Job, msg *Message) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked",
				logger.String("id", msg.ID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Handle(ctx, msg)
}

func (q *Queue) fail(ctx context.Context, msg *Message, err error, elapsed time.Duration) {
	msg.FailedReason = err.Error()

	if !IsPermanent(err) && msg.Attempts < msg.MaxAttempts {
		delay := q.config.Backoff(msg.Attempts)
		msg.State = StateDelayed
		msg.RunAt = q.now().Add(delay)
		if rerr := q.broker.Retry(ctx, msg); rerr != nil {
			q.logger.Error("schedule retry failed", logger.String("id", msg.ID), logger.Error(rerr))
		}
		q.logger.Warn("job failed, retry scheduled",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Int("attempt", msg.Attempts),
			logger.Duration("backoff_ms", delay),
			logger.Error(err))
		q.emit(Event{Queue: q.name, JobID: msg.ID, Type: msg.Type, State: StateDelayed, Attempt: msg.Attempts, Duration: elapsed, Error: err.Error()})
		return
	}

	finished := q.now()
	msg.State = StateFailed
	msg.FinishedAt = &finished
	if ferr := q.broker.Finish(ctx, msg, q.config.Retention, q.config.RecordTTL); ferr != nil {
		q.logger.Error("finish job failed", logger.String("id", msg.ID), logger.Error(ferr))
	}
	q.logger.Error("job failed",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempts", msg.Attempts),
		logger.Error(err))
	q.emit(Event{Queue: q.name, JobID: msg.ID, Type: msg.Type, State: StateFailed, Attempt: msg.Attempts, Duration: elapsed, Error: err.Error()})
}

func (q *Queue) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = q.now()
	}
	for _, o := range q.observers {
		o(ev)
	}
}

func (q *Queue) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-q.ctx.Done():
	}
}
