package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"MarketPull/pkg/logger"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	b, err := encode([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(b))

	b, err = encode("text")
	require.NoError(t, err)
	assert.Equal(t, "text", string(b))

	b, err = encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))

	_, err = encode(make(chan int))
	assert.Error(t, err)
}

func TestBackoffWithJitter(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoffWithJitter(100*time.Millisecond, time.Second, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.LessOrEqual(t, backoffWithJitter(100*time.Millisecond, time.Second, 1), 100*time.Millisecond)
}

func TestHookChain_OrderAndTrace(t *testing.T) {
	var order []string
	mk := func(name string) ConsumerHook {
		return HookFuncs{
			Before: func(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, kafka.Message, []byte, error) {
				order = append(order, "before:"+name)
				return ctx, km, data, nil
			},
			After: func(context.Context, string, kafka.Message, []byte, error) {
				order = append(order, "after:"+name)
			},
		}
	}
	chain := NewHookChain(TraceHook(), mk("a"), nil, mk("b"))

	km := kafka.Message{Headers: []kafka.Header{{Key: "trace_id", Value: []byte("t-1")}}}
	ctx, _, _, err := chain.BeforeHandle(context.Background(), "ticks", km, nil)
	require.NoError(t, err)
	assert.Equal(t, "t-1", TraceID(ctx))

	chain.AfterHandle(ctx, "ticks", km, nil, nil)
	assert.Equal(t, []string{"before:a", "before:b", "after:b", "after:a"}, order)
}

func TestHookChain_ContainsPanics(t *testing.T) {
	boom := HookFuncs{
		Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
			panic("boom")
		},
		Err: func(context.Context, string, kafka.Message, []byte, error) { panic("boom") },
	}
	chain := NewHookChain(boom, LogHook(logger.NewNop()))

	_, _, _, err := chain.BeforeHandle(context.Background(), "ticks", kafka.Message{}, nil)
	assert.Error(t, err)
	assert.NotPanics(t, func() {
		chain.OnError(context.Background(), "ticks", kafka.Message{}, nil, errors.New("x"))
	})
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)
	_, err = NewConsumer()
	assert.Error(t, err)
}

func TestConfigOptions(t *testing.T) {
	cfg := Config{Brokers: []string{"k1:9092"}, Compression: "zstd", BatchSize: 50}
	pc := &ProducerConfig{}
	for _, o := range cfg.ProducerOptions() {
		o(pc)
	}
	assert.Equal(t, []string{"k1:9092"}, pc.Brokers)
	assert.Equal(t, "zstd", pc.Compression)
	assert.Equal(t, 50, pc.BatchSize)
	assert.True(t, pc.HashByKey)
	assert.Equal(t, kafka.Zstd, parseCompression(pc.Compression))
}
