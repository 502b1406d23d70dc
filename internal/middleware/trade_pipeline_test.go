package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"MarketPull/internal/domain/models"
	"MarketPull/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingFanout struct {
	mu     sync.Mutex
	trades []*models.Trade
}

func (f *recordingFanout) Publish(t *models.Trade) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, t)
	return 1
}

type flakyArchiver struct {
	mu       sync.Mutex
	failures int
	stored   []*models.Trade
}

func (a *flakyArchiver) Process(_ context.Context, t *models.Trade) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return errors.New("broker unavailable")
	}
	a.stored = append(a.stored, t)
	return nil
}

func (a *flakyArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stored)
}

func tr(symbol string, price float64) *models.Trade {
	return &models.Trade{Symbol: symbol, Price: price, Volume: 5, Timestamp: 1700000000000}
}

func TestPipeline_Validates(t *testing.T) {
	p := NewTradePipeline(nil, nil, nil, PipelineConfig{}, logger.NewNop())
	ctx := context.Background()

	for _, bad := range []*models.Trade{
		nil,
		{Symbol: "", Price: 1, Timestamp: 1},
		{Symbol: "AAPL", Price: 1},
		{Symbol: "AAPL", Price: 0, Timestamp: 1},
		{Symbol: "AAPL", Price: 1, Volume: -1, Timestamp: 1},
	} {
		assert.ErrorIs(t, p.Process(ctx, bad), ErrInvalidTrade)
	}
	assert.NoError(t, p.Process(ctx, tr("aapl", 1)))
}

func TestPipeline_FansOutAndArchives(t *testing.T) {
	fan := &recordingFanout{}
	arch := &flakyArchiver{}
	p := NewTradePipeline(fan, arch, nil, PipelineConfig{}, logger.NewNop())

	require.NoError(t, p.Process(context.Background(), tr("msft", 400)))
	require.Len(t, fan.trades, 1)
	assert.Equal(t, "MSFT", fan.trades[0].Symbol)
	assert.Equal(t, 1, arch.count())
}

func TestPipeline_ThrottlesPerSymbol(t *testing.T) {
	fan := &recordingFanout{}
	p := NewTradePipeline(fan, nil, nil, PipelineConfig{MaxRPS: 2}, logger.NewNop())
	now := time.Unix(1700000000, 0)
	p.now = func() time.Time { return now }
	ctx := context.Background()

	assert.NoError(t, p.Process(ctx, tr("AAPL", 1)))
	assert.NoError(t, p.Process(ctx, tr("AAPL", 2)))
	assert.ErrorIs(t, p.Process(ctx, tr("AAPL", 3)), ErrThrottled)
	assert.NoError(t, p.Process(ctx, tr("IBM", 1)))

	now = now.Add(time.Second)
	assert.NoError(t, p.Process(ctx, tr("AAPL", 4)))
	assert.Len(t, fan.trades, 4)
}

func TestPipeline_BuffersAndRetries(t *testing.T) {
	fan := &recordingFanout{}
	arch := &flakyArchiver{failures: 2}
	p := NewTradePipeline(fan, arch, nil, PipelineConfig{RetryMin: time.Millisecond, RetryMax: 5 * time.Millisecond}, logger.NewNop())

	err := p.Process(context.Background(), tr("AAPL", 1))
	require.Error(t, err)
	assert.Len(t, fan.trades, 1, "live subscribers are served even when archiving fails")
	assert.Equal(t, 1, p.Buffered())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	require.Eventually(t, func() bool { return arch.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Buffered())
	assert.Len(t, fan.trades, 1)
}

func TestPipeline_FullBufferDrops(t *testing.T) {
	arch := &flakyArchiver{failures: 10}
	p := NewTradePipeline(nil, arch, nil, PipelineConfig{BufferSize: 1}, logger.NewNop())

	assert.Error(t, p.Process(context.Background(), tr("AAPL", 1)))
	assert.Error(t, p.Process(context.Background(), tr("AAPL", 2)))
	assert.Equal(t, 1, p.Buffered())
}
