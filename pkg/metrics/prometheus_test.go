package metrics

import (
	"testing"
	"time"

	"MarketPull/pkg/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorder(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.ObserveJob(queue.Event{Queue: "eod-ingest", State: queue.StateCompleted, Duration: 2 * time.Second})
	r.ObserveJob(queue.Event{Queue: "eod-ingest", State: queue.StateCompleted})
	r.RecordCache("hit")
	r.RecordProviderCall("finnhub", "ok", 0.2)
	r.RecordRateLimited("finnhub")
	r.RecordAlerts(4, 1)
	r.RecordTrade("AAPL", 190.5)
	r.RecordError("stream")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.jobsTotal.WithLabelValues("eod-ingest", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.providerCalls.WithLabelValues("finnhub", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rateLimited.WithLabelValues("finnhub")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.alertsEval))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alertsFired))
	assert.Equal(t, 190.5, testutil.ToFloat64(r.lastPrice.WithLabelValues("AAPL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("stream")))
}

func TestRecorder_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewWithRegisterer(prometheus.NewRegistry())
		NewWithRegisterer(prometheus.NewRegistry())
	})
}
