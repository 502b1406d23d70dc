package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownJobType = errors.New("queue: no job registered for type")
	ErrQueueStopped   = errors.New("queue: not running")
	ErrJobNotFound    = errors.New("queue: job not found")
)

// State is the lifecycle position of a job.
type State string

const (
	StateQueued    State = "queued"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// QueueConfig contains the configuration for one job family.
type QueueConfig struct {
	Workers      int           `yaml:"workers" default:"1"`
	MaxAttempts  int           `yaml:"max_attempts" default:"3"`
	BackoffBase  time.Duration `yaml:"backoff_base" default:"10s"`
	BackoffMax   time.Duration `yaml:"backoff_max" default:"10m"`
	PollInterval time.Duration `yaml:"poll_interval" default:"1s"`
	JobTimeout   time.Duration `yaml:"job_timeout" default:"30m"`
	// Retention bounds how many completed and failed jobs are kept for
	// inspection; RecordTTL bounds how long their records live.
	Retention int           `yaml:"retention" default:"100"`
	RecordTTL time.Duration `yaml:"record_ttl" default:"72h"`
}

func (c *QueueConfig) normalize() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 10 * time.Second
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 100
	}
	if c.RecordTTL <= 0 {
		c.RecordTTL = 72 * time.Hour
	}
}

// Backoff returns the delay before the given attempt is retried. Attempt
// counts from 1, so the first retry waits BackoffBase.
func (c *QueueConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.BackoffMax {
			return c.BackoffMax
		}
	}
	return d
}

// Message is a job record as stored by a Broker.
type Message struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	State        State           `json:"state"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	Progress     json.RawMessage `json:"progress,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	RunAt        time.Time       `json:"run_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

// Status is a point-in-time view of one queue.
type Status struct {
	Queue     string    `json:"queue"`
	Waiting   int64     `json:"waiting"`
	Delayed   int64     `json:"delayed"`
	Active    []Message `json:"active"`
	Pending   []Message `json:"pending"`
	Completed []Message `json:"completed"`
	Failed    []Message `json:"failed"`
}

// EnqueueOption adjusts a message before it is stored.
type EnqueueOption func(*Message)

// WithDelay makes the job eligible only after d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(m *Message) {
		if d > 0 {
			m.RunAt = m.EnqueuedAt.Add(d)
		}
	}
}

// WithMaxAttempts overrides the queue default for this job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(m *Message) {
		if n > 0 {
			m.MaxAttempts = n
		}
	}
}

// WithJobID sets an explicit id instead of a generated one.
func WithJobID(id string) EnqueueOption {
	return func(m *Message) {
		if id != "" {
			m.ID = id
		}
	}
}

// ParsePayload decodes a job payload into T.
func ParsePayload[T any](msg *Message) (*T, error) {
	var result T
	if msg == nil || len(msg.Payload) == 0 {
		return &result, nil
	}
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return nil, Permanent(fmt.Errorf("unmarshal %s payload: %w", msg.Type, err))
	}
	return &result, nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The job fails terminally on
// its first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
