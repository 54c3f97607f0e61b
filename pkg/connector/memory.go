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

package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const memoryStreamBuffer = 64

// Memory is an in-process connector. Records are published by the caller
// and routed to stream partition%count of their topic. It can be opened
// again after Shutdown, which makes it usable across consumer restarts.
type Memory struct {
	mu       sync.Mutex
	run      *memoryRun
	offsets  map[string]map[int32]int64
	marked   map[string]map[int32]int64
	openErr  error
	opens    int
	lastOpts map[string]string
}

type memoryRun struct {
	streams map[string][]*memoryStream
	closed  chan struct{}
	failed  chan struct{}
	err     error
	once    sync.Once
}

type memoryStream struct {
	topic   string
	records chan Record
	run     *memoryRun
	owner   *Memory
}

// NewMemory returns a closed memory connector.
func NewMemory() *Memory {
	return &Memory{
		offsets: make(map[string]map[int32]int64),
		marked:  make(map[string]map[int32]int64),
	}
}

// Factory returns a Factory that always hands out m.
func (m *Memory) Factory() Factory {
	return func(props map[string]string, _ *slog.Logger) (Connector, error) {
		m.mu.Lock()
		m.lastOpts = make(map[string]string, len(props))
		for k, v := range props {
			m.lastOpts[k] = v
		}
		m.mu.Unlock()
		return m, nil
	}
}

// FailNextOpen makes the next Streams call return err.
func (m *Memory) FailNextOpen(err error) {
	m.mu.Lock()
	m.openErr = err
	m.mu.Unlock()
}

// Opens reports how many times Streams succeeded.
func (m *Memory) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Props returns the properties passed to the last Factory call.
func (m *Memory) Props() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastOpts
}

// Marked returns the offset after the last marked record of a partition,
// which is where a restarted consumer would resume.
func (m *Memory) Marked(topic string, partition int32) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marked[topic][partition]
}

// IsOpen reports whether streams are currently handed out.
func (m *Memory) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run != nil
}

func (m *Memory) Streams(_ context.Context, counts map[string]int) (map[string][]Stream, error) {
	if err := validateCounts(counts); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		err := m.openErr
		m.openErr = nil
		return nil, err
	}
	if m.run != nil {
		return nil, errors.New("connector: memory connector already open")
	}
	run := &memoryRun{
		streams: make(map[string][]*memoryStream, len(counts)),
		closed:  make(chan struct{}),
		failed:  make(chan struct{}),
	}
	out := make(map[string][]Stream, len(counts))
	for topic, n := range counts {
		for i := 0; i < n; i++ {
			s := &memoryStream{topic: topic, records: make(chan Record, memoryStreamBuffer), run: run, owner: m}
			run.streams[topic] = append(run.streams[topic], s)
			out[topic] = append(out[topic], s)
		}
	}
	m.run = run
	m.opens++
	return out, nil
}

// Publish delivers value to the stream owning partition. It blocks while
// that stream's buffer is full.
func (m *Memory) Publish(ctx context.Context, topic string, partition int32, value []byte) error {
	m.mu.Lock()
	run := m.run
	if run == nil {
		m.mu.Unlock()
		return ErrClosed
	}
	streams, ok := run.streams[topic]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("connector: topic %q not assigned", topic)
	}
	if m.offsets[topic] == nil {
		m.offsets[topic] = make(map[int32]int64)
	}
	offset := m.offsets[topic][partition]
	m.offsets[topic][partition] = offset + 1
	m.mu.Unlock()

	rec := Record{
		Topic:       topic,
		Partition:   partition,
		Offset:      offset,
		LeaderEpoch: -1,
		Value:       value,
		Timestamp:   time.Now(),
	}
	s := streams[int(partition)%len(streams)]
	select {
	case s.records <- rec:
		return nil
	case <-run.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail makes every stream of the open run return err.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	run := m.run
	m.mu.Unlock()
	if run == nil {
		return
	}
	run.once.Do(func() {
		run.err = err
		close(run.failed)
	})
}

func (m *Memory) Shutdown() {
	m.mu.Lock()
	run := m.run
	m.run = nil
	m.mu.Unlock()
	if run != nil {
		close(run.closed)
	}
}

func (s *memoryStream) Topic() string { return s.topic }

func (s *memoryStream) Next(ctx context.Context) (Record, error) {
	// closure wins over buffered records so shutdown is prompt
	select {
	case <-s.run.closed:
		return Record{}, ErrClosed
	default:
	}
	select {
	case rec := <-s.records:
		return rec, nil
	case <-s.run.closed:
		return Record{}, ErrClosed
	case <-s.run.failed:
		return Record{}, s.run.err
	case <-ctx.Done():
		return Record{}, ctx.Err()
	}
}

func (s *memoryStream) Mark(rec Record) {
	m := s.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marked[rec.Topic] == nil {
		m.marked[rec.Topic] = make(map[int32]int64)
	}
	if next := rec.Offset + 1; next > m.marked[rec.Topic][rec.Partition] {
		m.marked[rec.Topic][rec.Partition] = next
	}
}
