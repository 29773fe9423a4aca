// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trends records topic-level signals from pipeline runs into
// InfluxDB and serves topic time series back out. The whole package is
// optional: without an InfluxDB endpoint the service runs with trend
// recording disabled.
package trends

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianNewswire/pkg/validation"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/datatypes"
	"github.com/AleutianAI/AleutianNewswire/services/newswire/observability"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.newswire.trends")

const (
	trendMeasurement = "topic_trend"
	writeTimeout     = 10 * time.Second
	queryTimeout     = 30 * time.Second
)

// Config holds InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// TrendPoint is one aggregated step in a topic's time series.
type TrendPoint struct {
	Time      time.Time `json:"time"`
	Mentions  int       `json:"mentions"`
	Sentiment float64   `json:"sentiment"`
}

// Recorder writes and queries topic-trend points.
//
// # Thread Safety
//
// Safe for concurrent use; the blocking write API serializes writes
// internally.
type Recorder struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
}

// New creates a recorder against the configured InfluxDB instance. The
// connection is lazy; Health probes it.
func New(cfg Config) *Recorder {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Recorder{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
	}
}

// Close releases the underlying client.
func (r *Recorder) Close() {
	r.client.Close()
}

// Health probes the InfluxDB instance.
func (r *Recorder) Health(ctx context.Context) error {
	health, err := r.client.Health(ctx)
	if err != nil {
		return err
	}
	if health.Status != "pass" {
		return fmt.Errorf("influxdb health status %s", health.Status)
	}
	return nil
}

// RecordRun writes one point per topic tag across the run's cards:
// sentiment magnitude signed by label, card importance, and a mention
// count of one. Invalid topic tags are skipped, not fatal.
func (r *Recorder) RecordRun(ctx context.Context, run *datatypes.PipelineRun) error {
	ctx, span := tracer.Start(ctx, "RecordRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", run.RunID))

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var points int
	for i := range run.Cards {
		card := &run.Cards[i]
		for _, tag := range card.TopicTags {
			topic, err := validation.SanitizeTopic(tag)
			if err != nil {
				slog.Debug("Skipping unusable topic tag", "tag", tag, "error", err)
				continue
			}
			p := influxdb2.NewPoint(
				trendMeasurement,
				map[string]string{
					"topic":  topic,
					"source": card.Source,
				},
				map[string]interface{}{
					"mentions":   1,
					"sentiment":  signedSentiment(card),
					"importance": card.Importance,
				},
				pointTime(card),
			)
			if err := r.write.WritePoint(ctx, p); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "trend write failed")
				observability.RecordTrendWrite(err)
				return fmt.Errorf("write trend point for %s: %w", topic, err)
			}
			points++
		}
	}
	observability.RecordTrendWrite(nil)
	span.SetAttributes(attribute.Int("trends.points", points))
	return nil
}

// signedSentiment maps a card's sentiment to [-1,1]: magnitude signed
// by label, zero for neutral.
func signedSentiment(card *datatypes.NewsCard) float64 {
	switch card.Sentiment {
	case datatypes.SentimentPositive:
		return card.SentimentScore
	case datatypes.SentimentNegative:
		return -card.SentimentScore
	}
	return 0
}

// pointTime stamps the point with the article's publish time so the
// series reflects when news happened, not when we processed it.
func pointTime(card *datatypes.NewsCard) time.Time {
	if !card.PublishedAt.IsZero() {
		return card.PublishedAt
	}
	return card.GeneratedAt
}

// fluxRange maps the request window vocabulary to a Flux range start
// and an aggregation step.
func fluxRange(window string) (start, every string) {
	switch window {
	case "1d":
		return "-1d", "1h"
	case "1m":
		return "-30d", "1d"
	case "1y":
		return "-365d", "1w"
	default:
		return "-7d", "6h"
	}
}

// TopicSeries returns the aggregated sentiment and mention series for
// a topic over the window ("1d", "1w", "1m", "1y").
//
// # Description
//
// The topic is sanitized before interpolation into the Flux query;
// anything outside the topic alphabet is rejected as a validation
// error, never sent to InfluxDB.
func (r *Recorder) TopicSeries(ctx context.Context, topic, window string) ([]TrendPoint, error) {
	ctx, span := tracer.Start(ctx, "TopicSeries")
	defer span.End()

	safeTopic, err := validation.SanitizeTopic(topic)
	if err != nil {
		return nil, &datatypes.ProviderError{
			Kind: datatypes.KindValidation, Provider: "trends", Message: err.Error(),
		}
	}
	span.SetAttributes(attribute.String("trends.topic", safeTopic))

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	start, every := fluxRange(window)

	sentiments, err := r.aggregate(ctx, safeTopic, start, every, "sentiment", "mean")
	if err != nil {
		return nil, err
	}
	mentions, err := r.aggregate(ctx, safeTopic, start, every, "mentions", "sum")
	if err != nil {
		return nil, err
	}

	series := make([]TrendPoint, 0, len(sentiments))
	for _, s := range sentiments {
		point := TrendPoint{Time: s.time, Sentiment: s.value}
		for _, m := range mentions {
			if m.time.Equal(s.time) {
				point.Mentions = int(m.value)
				break
			}
		}
		series = append(series, point)
	}
	return series, nil
}

type fluxValue struct {
	time  time.Time
	value float64
}

// aggregate runs one windowed aggregation over a single field.
func (r *Recorder) aggregate(ctx context.Context, topic, start, every, field, fn string) ([]fluxValue, error) {
	query := fmt.Sprintf(`
        from(bucket: "%s")
          |> range(start: %s)
          |> filter(fn: (r) => r._measurement == "%s")
          |> filter(fn: (r) => r.topic == "%s")
          |> filter(fn: (r) => r._field == "%s")
          |> group()
          |> aggregateWindow(every: %s, fn: %s, createEmpty: false)
    `, r.bucket, start, trendMeasurement, topic, field, every, fn)

	result, err := r.query.Query(ctx, query)
	if err != nil {
		return nil, &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "trends",
			Message: "flux query failed", Err: err,
		}
	}

	var out []fluxValue
	for result != nil && result.Next() {
		record := result.Record()
		value, ok := record.Value().(float64)
		if !ok {
			if iv, isInt := record.Value().(int64); isInt {
				value = float64(iv)
			} else {
				continue
			}
		}
		out = append(out, fluxValue{time: record.Time(), value: value})
	}
	if result != nil && result.Err() != nil {
		return nil, &datatypes.StorageError{
			Kind: datatypes.KindStoreUnavailable, Component: "trends",
			Message: "flux result iteration failed", Err: result.Err(),
		}
	}
	return out, nil
}
