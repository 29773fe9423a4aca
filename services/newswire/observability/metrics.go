// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the newswire
// service: pipeline runs, stage outcomes, provider calls, retrieval
// quality, and dialogue activity.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace  = "aleutian"
	newswireSubsystem = "newswire"
)

// NewswireMetrics holds all Prometheus metrics for the service.
//
// # Fields
//
//   - PipelineRunsTotal: Counter of runs by terminal status.
//   - StageOutcomesTotal: Counter of stage results by stage and outcome.
//   - StageDurationSeconds: Histogram of per-stage wall time.
//   - ProviderCallsTotal: Counter of outbound provider calls by provider
//     and status.
//   - RetrievalScore: Histogram of final retrieval scores.
//   - DialogueTurnsTotal: Counter of completed dialogue turns by status.
//   - ActiveWebsockets: Gauge of open dialogue websocket connections.
//   - TrendWritesTotal: Counter of trend points written by status.
type NewswireMetrics struct {
	PipelineRunsTotal    *prometheus.CounterVec
	StageOutcomesTotal   *prometheus.CounterVec
	StageDurationSeconds *prometheus.HistogramVec
	ProviderCallsTotal   *prometheus.CounterVec
	RetrievalScore       prometheus.Histogram
	DialogueTurnsTotal   *prometheus.CounterVec
	ActiveWebsockets     prometheus.Gauge
	TrendWritesTotal     *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics().
var DefaultMetrics *NewswireMetrics

// InitMetrics creates and registers all metrics. Call once at startup;
// repeated calls return the existing instance.
func InitMetrics() *NewswireMetrics {
	if DefaultMetrics != nil {
		return DefaultMetrics
	}
	DefaultMetrics = &NewswireMetrics{
		PipelineRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: newswireSubsystem,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by terminal status (success, partial-success, failed).",
		}, []string{"status"}),
		StageOutcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: newswireSubsystem,
			Name:      "stage_outcomes_total",
			Help:      "Stage results by stage name and outcome.",
		}, []string{"stage", "outcome"}),
		StageDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: newswireSubsystem,
			Name:      "stage_duration_seconds",
			Help:      "Wall time per pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		ProviderCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: newswireSubsystem,
			Name:      "provider_calls_total",
			Help:      "Outbound provider calls by provider and status (success, error).",
		}, []string{"provider", "status"}),
		RetrievalScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: newswireSubsystem,
			Name:      "retrieval_score",
			Help:      "Final re-ranked scores of retrieved chunks.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DialogueTurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: newswireSubsystem,
			Name:      "dialogue_turns_total",
			Help:      "Completed dialogue turns by status (success, error, busy).",
		}, []string{"status"}),
		ActiveWebsockets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: newswireSubsystem,
			Name:      "active_websockets",
			Help:      "Currently open dialogue websocket connections.",
		}),
		TrendWritesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: newswireSubsystem,
			Name:      "trend_writes_total",
			Help:      "Topic-trend points written by status (success, error).",
		}, []string{"status"}),
	}
	return DefaultMetrics
}

// RecordStage records one stage outcome with its duration. Safe to call
// with a nil DefaultMetrics (metrics disabled).
func RecordStage(stage, outcome string, duration time.Duration) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.StageOutcomesTotal.WithLabelValues(stage, outcome).Inc()
	DefaultMetrics.StageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRun records a run's terminal status.
func RecordRun(status string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.PipelineRunsTotal.WithLabelValues(status).Inc()
}

// RecordProviderCall records one outbound call result.
func RecordProviderCall(provider string, err error) {
	if DefaultMetrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.ProviderCallsTotal.WithLabelValues(provider, status).Inc()
}

// RecordRetrievalScores observes the final scores of one retrieval.
func RecordRetrievalScores(scores []float64) {
	if DefaultMetrics == nil {
		return
	}
	for _, s := range scores {
		DefaultMetrics.RetrievalScore.Observe(s)
	}
}

// RecordDialogueTurn records a turn's terminal status.
func RecordDialogueTurn(status string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.DialogueTurnsTotal.WithLabelValues(status).Inc()
}

// WebsocketOpened bumps the open-connection gauge.
func WebsocketOpened() {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.ActiveWebsockets.Inc()
}

// WebsocketClosed decrements the open-connection gauge.
func WebsocketClosed() {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.ActiveWebsockets.Dec()
}

// RecordTrendWrite records a trend-point write result.
func RecordTrendWrite(err error) {
	if DefaultMetrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.TrendWritesTotal.WithLabelValues(status).Inc()
}
