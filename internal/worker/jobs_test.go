package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"MarketPull/internal/domain/models"
	"MarketPull/internal/domain/service"
	"MarketPull/internal/usecase"
	"MarketPull/pkg/logger"
	"MarketPull/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(t *testing.T, payload interface{}) *queue.Message {
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Message{ID: "1", Payload: raw}
}

func TestHandler_DecodesPayload(t *testing.T) {
	var got models.EODSymbolPayload
	job := newJob("eod", models.JobEODSymbol, func(_ context.Context, p *models.EODSymbolPayload) (interface{}, error) {
		got = *p
		return "ok", nil
	})

	res, err := job.Handle(context.Background(), message(t, models.EODSymbolPayload{Symbol: "AAPL", WindowDays: 3}))
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, models.EODSymbolPayload{Symbol: "AAPL", WindowDays: 3}, got)
	assert.Equal(t, models.JobEODSymbol, job.Type())
}

func TestHandler_BadPayloadIsPermanent(t *testing.T) {
	job := newJob("eod", models.JobEODSymbol, func(context.Context, *models.EODSymbolPayload) (interface{}, error) {
		return nil, nil
	})
	_, err := job.Handle(context.Background(), &queue.Message{Payload: json.RawMessage(`{"symbol":`)})
	assert.True(t, queue.IsPermanent(err))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"invalid query", fmt.Errorf("%w: symbol required", usecase.ErrInvalidQuery), true},
		{"sync running", usecase.ErrSyncInProgress, true},
		{"no credential", fmt.Errorf("finnhub: %w", service.ErrNoCredential), true},
		{"rate limited", &service.RateLimitError{Provider: "finnhub"}, false},
		{"transport", errors.New("connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.permanent, queue.IsPermanent(classify(tc.err)))
		})
	}
}

func TestRegister_RequiresEveryQueue(t *testing.T) {
	m := queue.NewManager(queue.NewQueue(models.QueueEOD, logger.NewNop(), queue.QueueConfig{}, queue.NewMemoryBroker()))
	err := Register(m, nil, nil, nil)
	assert.ErrorIs(t, err, queue.ErrUnknownQueue)
}

func TestRegister_AttachesAllFamilies(t *testing.T) {
	broker := queue.NewMemoryBroker()
	m := queue.NewManager()
	for _, name := range models.AllQueues {
		m.Add(queue.NewQueue(name, logger.NewNop(), queue.QueueConfig{}, broker))
	}
	require.NoError(t, Register(m, nil, nil, nil))
}
