package metrics

import (
	"MarketPull/pkg/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	cacheTotal    *prometheus.CounterVec
	candleSource  *prometheus.CounterVec
	providerCalls *prometheus.CounterVec
	providerTime  *prometheus.HistogramVec
	rateLimited   *prometheus.CounterVec
	alertsEval    prometheus.Counter
	alertsFired   prometheus.Counter
	lastPrice     *prometheus.GaugeVec
	tradesTotal   *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
}

// New registers the collectors on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		jobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_jobs_total",
				Help: "Job lifecycle transitions by queue and state",
			},
			[]string{"queue", "state"},
		),
		jobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpull_job_duration_seconds",
				Help:    "Handler run time of finished job attempts",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"queue", "state"},
		),
		cacheTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_candle_cache_total",
				Help: "Candle cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		candleSource: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_candle_reads_total",
				Help: "Candle reads by answering layer",
			},
			[]string{"source"},
		),
		providerCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_provider_calls_total",
				Help: "Upstream calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		providerTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpull_provider_call_seconds",
				Help:    "Upstream call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		rateLimited: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_provider_rate_limited_total",
				Help: "Upstream 429 responses",
			},
			[]string{"provider"},
		),
		alertsEval: f.NewCounter(prometheus.CounterOpts{
			Name: "marketpull_alerts_evaluated_total",
			Help: "Alerts evaluated",
		}),
		alertsFired: f.NewCounter(prometheus.CounterOpts{
			Name: "marketpull_alerts_triggered_total",
			Help: "Alerts triggered",
		}),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpull_last_price",
				Help: "Last streamed trade price for a symbol",
			},
			[]string{"symbol"},
		),
		tradesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_trades_total",
				Help: "Streamed trades accepted by the pipeline",
			},
			[]string{"symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
	}
}

func (r *Recorder) RecordJob(queue, state string, seconds float64) {
	r.jobsTotal.WithLabelValues(queue, state).Inc()
	if seconds > 0 {
		r.jobDuration.WithLabelValues(queue, state).Observe(seconds)
	}
}

// ObserveJob is a queue.Observer.
func (r *Recorder) ObserveJob(ev queue.Event) {
	r.RecordJob(ev.Queue, string(ev.State), ev.Duration.Seconds())
}

func (r *Recorder) RecordCache(outcome string) {
	r.cacheTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RecordCandleSource(source string) {
	r.candleSource.WithLabelValues(source).Inc()
}

func (r *Recorder) RecordProviderCall(provider, outcome string, seconds float64) {
	r.providerCalls.WithLabelValues(provider, outcome).Inc()
	r.providerTime.WithLabelValues(provider).Observe(seconds)
}

func (r *Recorder) RecordRateLimited(provider string) {
	r.rateLimited.WithLabelValues(provider).Inc()
}

func (r *Recorder) RecordAlerts(evaluated, triggered int) {
	r.alertsEval.Add(float64(evaluated))
	r.alertsFired.Add(float64(triggered))
}

// RecordTrade records a streamed trade and its price.
func (r *Recorder) RecordTrade(symbol string, price float64) {
	r.tradesTotal.WithLabelValues(symbol).Inc()
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}
