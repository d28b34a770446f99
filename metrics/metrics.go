// Package metrics exposes Prometheus instrumentation for the vote ledger.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	votesAppended     prometheus.Counter
	appendErrors      prometheus.Counter
	sealDuration      prometheus.Histogram
	chainBlocks       prometheus.Gauge
	chainValid        prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		votesAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chain_votes_appended_total",
			Help: "Total votes successfully sealed and appended to the chain.",
		}),
		appendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chain_append_errors_total",
			Help: "Total append attempts that failed.",
		}),
		sealDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chain_seal_duration_seconds",
			Help:    "Histogram of proof-of-work sealing durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		chainBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chain_blocks",
			Help: "Current number of blocks in the chain, genesis included.",
		}),
		chainValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chain_valid",
			Help: "Whether the last full validation passed (1 valid, 0 broken).",
		}),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.votesAppended,
		m.appendErrors,
		m.sealDuration,
		m.chainBlocks,
		m.chainValid,
	)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler instruments a route with request count and duration.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// VoteAppended records one successful append and its sealing duration.
func (m *Metrics) VoteAppended(sealTook time.Duration) {
	if m == nil {
		return
	}
	m.votesAppended.Inc()
	m.sealDuration.Observe(sealTook.Seconds())
}

// AppendFailed records one failed append attempt.
func (m *Metrics) AppendFailed() {
	if m == nil {
		return
	}
	m.appendErrors.Inc()
}

// ChainObserved records the chain length and validity seen by the last
// summary or validation.
func (m *Metrics) ChainObserved(blocks int, valid bool) {
	if m == nil {
		return
	}
	m.chainBlocks.Set(float64(blocks))
	if valid {
		m.chainValid.Set(1)
	} else {
		m.chainValid.Set(0)
	}
}
