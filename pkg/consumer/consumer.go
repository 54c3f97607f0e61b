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

// Package consumer runs the partitioned ingestion pipeline: one worker per
// assigned partition stream decodes records and feeds a shared batcher,
// and every non-empty batch it emits is forwarded to the backend.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/novatechflow/tsingest/pkg/batcher"
	"github.com/novatechflow/tsingest/pkg/connector"
	"github.com/novatechflow/tsingest/pkg/model"
	"github.com/novatechflow/tsingest/pkg/schema"
)

var (
	// ErrAlreadyRunning is returned by Start on a running consumer.
	ErrAlreadyRunning = errors.New("consumer already running")
	// ErrNotRunning is returned by Stop on a stopped consumer.
	ErrNotRunning = errors.New("consumer not running")
)

// Backend accepts flushed batches.
type Backend interface {
	Write(ctx context.Context, batch model.Batch) error
}

// Options carries the collaborators of a Consumer.
type Options struct {
	Connect  connector.Factory
	Backend  Backend
	Reporter Reporter
	Logger   *slog.Logger
	// Schemas defaults to schema.Default.
	Schemas *schema.Registry
	Clock   clockwork.Clock
}

type state int32

const (
	stateStopped state = iota
	stateRunning
)

// Consumer is the externally visible ingestion unit.
type Consumer struct {
	cfg      Config
	connect  connector.Factory
	backend  Backend
	reporter Reporter
	base     *slog.Logger
	logger   *slog.Logger
	decoder  schema.Schema
	batcher  *batcher.Batcher

	mu    sync.Mutex
	state atomic.Int32
	run   *run
	// stops tracks asynchronous stops triggered by connector failures.
	stops sync.WaitGroup
}

type run struct {
	conn     connector.Connector
	pool     *pool
	failOnce sync.Once
}

// New validates cfg and resolves the schema once.
func New(cfg Config, opts Options) (*Consumer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Connect == nil {
		return nil, errors.New("consumer: connector factory required")
	}
	if opts.Backend == nil {
		return nil, errors.New("consumer: backend required")
	}
	registry := opts.Schemas
	if registry == nil {
		registry = schema.Default
	}
	decoder, err := registry.Lookup(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("consumer: %w", err)
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = NopReporter{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:      cfg,
		connect:  opts.Connect,
		backend:  opts.Backend,
		reporter: reporter,
		base:     logger,
		logger:   logger.With("component", "consumer"),
		decoder:  decoder,
		batcher:  batcher.New(cfg.Batch, opts.Clock),
	}, nil
}

// Config returns the effective configuration.
func (c *Consumer) Config() Config {
	return c.cfg
}

// IsReady reports whether the consumer is running. It never blocks.
func (c *Consumer) IsReady() bool {
	return state(c.state.Load()) == stateRunning
}

// Start opens the connector, assigns ThreadCount streams per topic and
// spawns one worker per stream. Connector errors leave the consumer stopped.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.IsReady() {
		return ErrAlreadyRunning
	}

	c.logger.Info("starting", "topics", c.cfg.Topics, "threads_per_topic", c.cfg.ThreadCount, "schema", c.cfg.Schema)
	conn, err := c.connect(c.cfg.ConnectorConfig, c.base)
	if err != nil {
		return fmt.Errorf("consumer: create connector: %w", err)
	}
	counts := make(map[string]int, len(c.cfg.Topics))
	for _, topic := range c.cfg.Topics {
		counts[topic] = c.cfg.ThreadCount
	}
	streams, err := conn.Streams(ctx, counts)
	if err != nil {
		conn.Shutdown()
		c.reporter.ReportConnectorError(err)
		return fmt.Errorf("consumer: open streams: %w", err)
	}

	r := &run{conn: conn, pool: newPool(len(c.cfg.Topics) * c.cfg.ThreadCount)}
	topics := make([]string, 0, len(streams))
	for topic := range streams {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	workers := 0
	for _, topic := range topics {
		for i, stream := range streams[topic] {
			w := &partitionWorker{
				stream:   stream,
				decoder:  c.decoder,
				batcher:  c.batcher,
				reporter: c.reporter,
				logger:   c.logger.With("topic", topic, "stream", i),
				forward:  c.forward,
				fatal:    func(err error) { c.fail(r, err) },
			}
			r.pool.Go(w.run)
			workers++
		}
	}
	r.pool.seal()

	c.run = r
	c.state.Store(int32(stateRunning))
	c.reporter.ReportRunning(true)
	c.logger.Info("started", "workers", workers)
	return nil
}

// Stop shuts the connector down, waits up to ShutdownTimeout for the
// workers and, unless DiscardOnStop is set, forwards whatever is still buffered.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.IsReady() {
		return ErrNotRunning
	}
	c.stopLocked(ctx, c.run)
	return nil
}

// Wait blocks until every stop triggered by a connector failure finished.
func (c *Consumer) Wait() {
	c.stops.Wait()
}

func (c *Consumer) stopLocked(ctx context.Context, r *run) {
	c.logger.Info("stopping")
	r.conn.Shutdown()
	r.pool.cancel()
	if !r.pool.wait(c.cfg.ShutdownTimeout) {
		c.logger.Warn("workers did not finish in time", "timeout", c.cfg.ShutdownTimeout)
	} else if r.pool.err != nil {
		c.logger.Debug("workers exited with error", "error", r.pool.err)
	}

	if !c.cfg.DiscardOnStop {
		if batch := c.batcher.Drain(); len(batch) > 0 {
			c.reporter.ReportBatch(len(batch))
			c.forward(ctx, batch)
		}
	}

	c.run = nil
	c.state.Store(int32(stateStopped))
	c.reporter.ReportRunning(false)
	c.logger.Info("stopped")
}

// fail reports the first connector failure of run r and stops it, from a
// goroutine of its own since the caller is one of the workers Stop waits for.
// Later failures of the same run are ignored.
func (c *Consumer) fail(r *run, err error) {
	r.failOnce.Do(func() {
		c.reporter.ReportConnectorError(err)
		c.logger.Error("connector failed, stopping consumer", "error", err)
		c.stops.Add(1)
		go func() {
			defer c.stops.Done()
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.run != r {
				return
			}
			c.stopLocked(context.Background(), r)
		}()
	})
}

func (c *Consumer) forward(ctx context.Context, batch model.Batch) {
	if err := c.backend.Write(ctx, batch); err != nil {
		c.reporter.ReportWriteFailure(len(batch), err)
		c.logger.Error("dropping batch after failed write", "entries", len(batch), "error", err)
	}
}
