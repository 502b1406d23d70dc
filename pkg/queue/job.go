package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Job defines a queue job handler.
type Job interface {
	// Name returns a human readable identifier of the job.
	Name() string

	// Type returns the message type the job handles.
	Type() string

	// Handle processes one message. The returned value is stored as the
	// job result when it completes.
	Handle(ctx context.Context, msg *Message) (interface{}, error)
}

// Broker stores messages and moves them between lifecycle states for one
// or more named queues.
type Broker interface {
	Ping(ctx context.Context) error
	// Add stores the record and makes it ready, or delayed when RunAt is in
	// the future.
	Add(ctx context.Context, msg *Message) error
	// Reserve blocks up to timeout for the next ready message and marks it
	// active. It returns nil, nil on timeout.
	Reserve(ctx context.Context, queue string, timeout time.Duration) (*Message, error)
	// Update persists progress on an active message.
	Update(ctx context.Context, msg *Message) error
	// Retry moves an active message to the delayed set until msg.RunAt.
	Retry(ctx context.Context, msg *Message) error
	// Finish moves an active message into its terminal history list,
	// keeping at most retention entries there.
	Finish(ctx context.Context, msg *Message, retention int, ttl time.Duration) error
	// PromoteDue moves delayed messages whose time has come to ready.
	PromoteDue(ctx context.Context, queue string, now time.Time) (int, error)
	// Recover moves messages left active by a previous process to ready.
	Recover(ctx context.Context, queue string) (int, error)
	Get(ctx context.Context, queue, id string) (*Message, error)
	Status(ctx context.Context, queue string, limit int) (*Status, error)
}

type progressKey struct{}

type progressReporter func(ctx context.Context, v interface{}) error

// ReportProgress stores v as the progress of the job running in ctx. It is
// a no-op outside a job.
func ReportProgress(ctx context.Context, v interface{}) error {
	r, ok := ctx.Value(progressKey{}).(progressReporter)
	if !ok {
		return nil
	}
	return r(ctx, v)
}

func withProgress(ctx context.Context, r progressReporter) context.Context {
	return context.WithValue(ctx, progressKey{}, r)
}

func marshalRaw(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
