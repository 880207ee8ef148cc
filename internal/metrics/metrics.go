package metrics

/*
domaingate — discovery gating and domain vetting in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/x-stp/domaingate/internal/core"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     atomic.Bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// Validation metrics
	ValidationsTotal   *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec
	ClassifiedDomains  *prometheus.GaugeVec

	// Lookup adapter metrics
	LookupDuration       *prometheus.HistogramVec
	LookupErrorsTotal    *prometheus.CounterVec
	TLSHandshakeDuration prometheus.Histogram
	LookupRateLimit      *prometheus.GaugeVec

	// Trigger gate metrics
	TriggerEvaluations *prometheus.CounterVec
	TriggerSignals     *prometheus.GaugeVec
	CPUUtilization     prometheus.Gauge

	// Cycle metrics
	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	DomainsAdmitted prometheus.Counter

	// Scheduler metrics
	SchedulerQueueDepth prometheus.Gauge
	SchedulerQueueWait  prometheus.Histogram
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled.Store(true)
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
	cycleBuckets := []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800}

	return &Metrics{
		ValidationsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domaingate_validations_total",
				Help: "Total number of validations by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		ValidationFailures: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domaingate_validation_failures_total",
				Help: "Total number of validations that ended with a failure reason",
			},
			[]string{"reason"},
		),
		ValidationDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domaingate_validation_duration_seconds",
				Help:    "Time spent in a single validation",
				Buckets: buckets,
			},
			[]string{"tier"},
		),
		ClassifiedDomains: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "domaingate_classified_domains",
				Help: "Number of domains currently in each classification set",
			},
			[]string{"state"},
		),

		LookupDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domaingate_lookup_duration_seconds",
				Help:    "Time spent in external lookups",
				Buckets: buckets,
			},
			[]string{"adapter", "status"},
		),
		LookupErrorsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domaingate_lookup_errors_total",
				Help: "Total number of failed external lookups, by whether a retry might succeed",
			},
			[]string{"adapter", "retryable"},
		),
		TLSHandshakeDuration: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "domaingate_tls_handshake_duration_seconds",
				Help:    "Time spent on TLS handshakes during probes",
				Buckets: buckets,
			},
		),
		LookupRateLimit: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "domaingate_lookup_rate_limit",
				Help: "Current adaptive rate limit per adapter in requests per second",
			},
			[]string{"adapter"},
		),

		TriggerEvaluations: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domaingate_trigger_evaluations_total",
				Help: "Total number of trigger gate evaluations by decision",
			},
			[]string{"decision"},
		),
		TriggerSignals: defaultRegisterer.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "domaingate_trigger_signal",
				Help: "Last observed value (0/1) of each trigger signal",
			},
			[]string{"signal"},
		),
		CPUUtilization: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "domaingate_cpu_utilization_percent",
				Help: "Last sampled CPU utilization",
			},
		),

		CyclesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domaingate_cycles_total",
				Help: "Total number of discovery cycles by status",
			},
			[]string{"status"},
		),
		CycleDuration: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "domaingate_cycle_duration_seconds",
				Help:    "Duration of discovery cycles",
				Buckets: cycleBuckets,
			},
		),
		DomainsAdmitted: defaultRegisterer.NewCounter(
			prometheus.CounterOpts{
				Name: "domaingate_domains_admitted_total",
				Help: "Total number of validated domains forwarded downstream",
			},
		),

		SchedulerQueueDepth: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "domaingate_scheduler_queue_depth",
				Help: "Items waiting for a validation worker",
			},
		),
		SchedulerQueueWait: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "domaingate_scheduler_queue_wait_seconds",
				Help:    "Time items spend in the queue before a worker picks them up",
				Buckets: buckets,
			},
		),
	}
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics
func StartMetricsServer(addr string) error {
	if !IsMetricsEnabled() {
		return nil
	}

	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Printf("Starting metrics server on %s", addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	})

	return nil
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		log.Println("Shutting down metrics server...")
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// RecordValidation counts a finished validation and its duration.
func (m *Metrics) RecordValidation(tier, outcome, reason string, elapsed time.Duration) {
	if !IsMetricsEnabled() {
		return
	}
	m.ValidationsTotal.WithLabelValues(tier, outcome).Inc()
	m.ValidationDuration.WithLabelValues(tier).Observe(elapsed.Seconds())
	if reason != "" {
		m.ValidationFailures.WithLabelValues(reason).Inc()
	}
}

// RecordLookup observes one adapter call.
func (m *Metrics) RecordLookup(adapter string, err error, elapsed time.Duration) {
	if !IsMetricsEnabled() {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.LookupErrorsTotal.WithLabelValues(adapter, strconv.FormatBool(core.IsRetryable(err))).Inc()
	}
	m.LookupDuration.WithLabelValues(adapter, status).Observe(elapsed.Seconds())
}

// ObserveTLSHandshake records a completed TLS handshake.
func (m *Metrics) ObserveTLSHandshake(elapsed time.Duration) {
	if !IsMetricsEnabled() {
		return
	}
	m.TLSHandshakeDuration.Observe(elapsed.Seconds())
}

// UpdateRateLimit updates the adaptive rate limit gauge for an adapter.
func (m *Metrics) UpdateRateLimit(adapter string, rps float64) {
	if !IsMetricsEnabled() {
		return
	}
	m.LookupRateLimit.WithLabelValues(adapter).Set(rps)
}

// UpdateClassificationCounts sets the size of the trusted and blacklisted sets.
func (m *Metrics) UpdateClassificationCounts(trusted, blacklisted int) {
	if !IsMetricsEnabled() {
		return
	}
	m.ClassifiedDomains.WithLabelValues("trusted").Set(float64(trusted))
	m.ClassifiedDomains.WithLabelValues("blacklisted").Set(float64(blacklisted))
}

// RecordTrigger records one evaluation of the trigger gate.
func (m *Metrics) RecordTrigger(shouldTrigger, cpu, gaps, keywords bool) {
	if !IsMetricsEnabled() {
		return
	}
	decision := "skip"
	if shouldTrigger {
		decision = "trigger"
	}
	m.TriggerEvaluations.WithLabelValues(decision).Inc()
	m.TriggerSignals.WithLabelValues("cpu_available").Set(boolToFloat(cpu))
	m.TriggerSignals.WithLabelValues("index_gaps").Set(boolToFloat(gaps))
	m.TriggerSignals.WithLabelValues("trending_keywords").Set(boolToFloat(keywords))
}

// UpdateCPU records the last CPU sample.
func (m *Metrics) UpdateCPU(percent float64) {
	if !IsMetricsEnabled() {
		return
	}
	m.CPUUtilization.Set(percent)
}

// RecordCycle records the end of a discovery cycle.
func (m *Metrics) RecordCycle(status string, elapsed time.Duration, admitted int) {
	if !IsMetricsEnabled() {
		return
	}
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(elapsed.Seconds())
	m.DomainsAdmitted.Add(float64(admitted))
}

// UpdateQueueMetrics updates the scheduler queue gauges.
func (m *Metrics) UpdateQueueMetrics(depth int, wait time.Duration) {
	if !IsMetricsEnabled() {
		return
	}
	m.SchedulerQueueDepth.Set(float64(depth))
	m.SchedulerQueueWait.Observe(wait.Seconds())
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
