package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deixis/shipwright/internal/pipeline"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

var stepBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600}

// Metrics holds the server's prometheus collectors. It also observes
// executor steps.
type Metrics struct {
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	deployResults   *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A
// collector that is already registered is reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipwright",
			Subsystem: "server",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shipwright",
			Subsystem: "server",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		deployResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shipwright",
			Subsystem: "server",
			Name:      "deploy_results_total",
			Help:      "Number of deploy request outcomes",
		}, []string{"outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shipwright",
			Subsystem: "server",
			Name:      "step_duration_seconds",
			Help:      "Duration of remote pipeline steps",
			Buckets:   stepBuckets,
		}, []string{"step", "status"}),
	}

	m.requestTotal = register(reg, m.requestTotal)
	m.requestDuration = register(reg, m.requestDuration)
	m.deployResults = register(reg, m.deployResults)
	m.stepDuration = register(reg, m.stepDuration)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

// ObserveStep records the duration and outcome of one executor step.
func (m *Metrics) ObserveStep(name string, status pipeline.Status, d time.Duration) {
	m.stepDuration.With(prometheus.Labels{"step": name, "status": string(status)}).Observe(d.Seconds())
}

func (m *Metrics) recordRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestDuration.With(labels).Observe(duration.Seconds())
}

func (m *Metrics) recordDeployResult(outcome string) {
	m.deployResults.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &responseRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)
		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.recordRequest(req.Method, route, status, time.Since(start))
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.status = code
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if rr.status == 0 {
		rr.status = http.StatusOK
	}
	return rr.ResponseWriter.Write(b)
}
