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

package batcher

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/novatechflow/tsingest/pkg/model"
)

const (
	DefaultMaxSize = 1000
	DefaultMaxAge  = 15 * time.Second
)

// Config controls flush thresholds.
type Config struct {
	MaxSize int
	MaxAge  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

// Batcher accumulates entries from concurrent writers into a single buffer and
// hands the buffer out once it is full or has aged past MaxAge.
//
// All buffer state is guarded by mu. The threshold check and the swap share a
// critical section with the append, so every entry lands in exactly one batch.
type Batcher struct {
	cfg   Config
	clock clockwork.Clock

	mu        sync.Mutex
	buffer    model.Batch
	lastFlush time.Time
}

// New creates an empty batcher. A nil clock uses wall time.
func New(cfg Config, clock clockwork.Clock) *Batcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg = cfg.withDefaults()
	return &Batcher{
		cfg:       cfg,
		clock:     clock,
		buffer:    make(model.Batch, 0, cfg.MaxSize),
		lastFlush: clock.Now(),
	}
}

// Config returns the effective thresholds.
func (b *Batcher) Config() Config {
	return b.cfg
}

// Write buffers entry. When the active buffer is full or older than MaxAge the
// buffer is detached and returned with ok=true; entry then starts the new
// buffer. The returned batch may be empty after an idle period.
func (b *Batcher) Write(entry model.WriteEntry) (batch model.Batch, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if len(b.buffer) >= b.cfg.MaxSize || now.Sub(b.lastFlush) > b.cfg.MaxAge {
		batch = b.swapLocked(now)
		ok = true
	}
	b.buffer = append(b.buffer, entry)
	return batch, ok
}

// Drain detaches whatever is buffered, even below the thresholds.
func (b *Batcher) Drain() model.Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.swapLocked(b.clock.Now())
}

// Len returns the number of buffered entries.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

func (b *Batcher) swapLocked(now time.Time) model.Batch {
	flushed := b.buffer
	b.buffer = make(model.Batch, 0, b.cfg.MaxSize)
	b.lastFlush = now
	return flushed
}
