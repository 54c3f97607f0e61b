// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package backend forwards flushed batches to the metric and metadata sinks.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/novatechflow/tsingest/pkg/model"
)

const (
	SinkMetrics  = "metrics"
	SinkMetadata = "metadata"
)

// MetricSink persists the data points of a batch.
type MetricSink interface {
	WriteMetrics(ctx context.Context, batch model.Batch) error
}

// MetadataSink records the series a batch touches.
type MetadataSink interface {
	WriteSeries(ctx context.Context, series []model.Series) error
}

// RetryConfig bounds the exponential backoff applied to every sink call.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns the default policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 5 * time.Second}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	return c
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	Retry  RetryConfig
	Health *HealthMonitor
	Logger *slog.Logger
	Clock  clockwork.Clock
}

// Writer de-duplicates the series of a batch, writes them to the metadata
// sink and then writes the batch to the metric sink. Each call is retried
// under the retry policy; errors wrapped with Permanent are not retried.
type Writer struct {
	metrics  MetricSink
	metadata MetadataSink
	retry    RetryConfig
	health   *HealthMonitor
	logger   *slog.Logger
	clock    clockwork.Clock
}

// NewWriter builds a writer. metadata may be nil.
func NewWriter(metrics MetricSink, metadata MetadataSink, opts WriterOptions) (*Writer, error) {
	if metrics == nil {
		return nil, errors.New("backend: metric sink required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	health := opts.Health
	if health == nil {
		health = NewHealthMonitor(HealthConfig{}, clock)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		metrics:  metrics,
		metadata: metadata,
		retry:    opts.Retry.withDefaults(),
		health:   health,
		logger:   logger.With("component", "backend"),
		clock:    clock,
	}, nil
}

// Health exposes the monitor fed by every sink call.
func (w *Writer) Health() *HealthMonitor {
	return w.health
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (w *Writer) Write(ctx context.Context, batch model.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	if w.metadata != nil {
		series := batch.UniqueSeries()
		if err := w.do(ctx, SinkMetadata, func(ctx context.Context) error {
			return w.metadata.WriteSeries(ctx, series)
		}); err != nil {
			return fmt.Errorf("backend: write %d series: %w", len(series), err)
		}
	}
	if err := w.do(ctx, SinkMetrics, func(ctx context.Context) error {
		return w.metrics.WriteMetrics(ctx, batch)
	}); err != nil {
		return fmt.Errorf("backend: write %d entries: %w", len(batch), err)
	}
	return nil
}

func (w *Writer) do(ctx context.Context, sink string, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.retry.InitialInterval
	policy.MaxInterval = w.retry.MaxInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		start := w.clock.Now()
		err := fn(ctx)
		w.health.Record(sink, w.clock.Since(start), err)
		return err
	}
	notify := func(err error, wait time.Duration) {
		w.logger.Warn("sink write failed, retrying", "sink", sink, "attempt", attempt, "backoff", wait, "error", err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(w.retry.MaxRetries)), ctx)
	return backoff.RetryNotify(op, b, notify)
}
