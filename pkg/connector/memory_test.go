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
	"sync"
	"testing"
	"time"
)

func TestMemoryRoutesByPartition(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	streams, err := m.Streams(ctx, map[string]int{"metrics": 2})
	if err != nil {
		t.Fatalf("Streams: %v", err)
	}
	if len(streams["metrics"]) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(streams["metrics"]))
	}

	for i := 0; i < 3; i++ {
		if err := m.Publish(ctx, "metrics", 3, []byte{byte(i)}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	s := streams["metrics"][1]
	if s.Topic() != "metrics" {
		t.Fatalf("unexpected topic %q", s.Topic())
	}
	for i := 0; i < 3; i++ {
		rec, err := s.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if rec.Partition != 3 || rec.Offset != int64(i) || rec.Value[0] != byte(i) {
			t.Fatalf("unexpected record %+v", rec)
		}
	}

	if err := m.Publish(ctx, "other", 0, nil); err == nil {
		t.Fatalf("expected error for unassigned topic")
	}
}

func TestMemoryShutdownUnblocksNext(t *testing.T) {
	m := NewMemory()
	streams, err := m.Streams(context.Background(), map[string]int{"metrics": 1})
	if err != nil {
		t.Fatalf("Streams: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := streams["metrics"][0].Next(context.Background())
		errCh <- err
	}()

	m.Shutdown()
	m.Shutdown()
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Next did not unblock")
	}

	if err := m.Publish(context.Background(), "metrics", 0, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
	if m.IsOpen() {
		t.Fatalf("expected connector closed")
	}

	if _, err := m.Streams(context.Background(), map[string]int{"metrics": 1}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if m.Opens() != 2 {
		t.Fatalf("expected 2 opens, got %d", m.Opens())
	}
}

func TestMemoryFail(t *testing.T) {
	m := NewMemory()
	streams, err := m.Streams(context.Background(), map[string]int{"a": 1, "b": 1})
	if err != nil {
		t.Fatalf("Streams: %v", err)
	}
	boom := errors.New("partition reassigned")
	m.Fail(boom)
	m.Fail(errors.New("second failure ignored"))

	var wg sync.WaitGroup
	for _, topic := range []string{"a", "b"} {
		wg.Add(1)
		go func(s Stream) {
			defer wg.Done()
			if _, err := s.Next(context.Background()); !errors.Is(err, boom) {
				t.Errorf("expected injected failure, got %v", err)
			}
		}(streams[topic][0])
	}
	wg.Wait()
}

func TestMemoryOpenErrors(t *testing.T) {
	m := NewMemory()
	if _, err := m.Streams(context.Background(), nil); err == nil {
		t.Fatalf("expected error without topics")
	}
	if _, err := m.Streams(context.Background(), map[string]int{"a": 0}); err == nil {
		t.Fatalf("expected error for zero streams")
	}

	boom := errors.New("connection refused")
	m.FailNextOpen(boom)
	if _, err := m.Streams(context.Background(), map[string]int{"a": 1}); !errors.Is(err, boom) {
		t.Fatalf("expected injected open error, got %v", err)
	}
	if _, err := m.Streams(context.Background(), map[string]int{"a": 1}); err != nil {
		t.Fatalf("second open: %v", err)
	}
	if _, err := m.Streams(context.Background(), map[string]int{"a": 1}); err == nil {
		t.Fatalf("expected error when already open")
	}
}

func TestMemoryNextHonoursContext(t *testing.T) {
	m := NewMemory()
	streams, err := m.Streams(context.Background(), map[string]int{"a": 1})
	if err != nil {
		t.Fatalf("Streams: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := streams["a"][0].Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMemoryFactoryCopiesProps(t *testing.T) {
	m := NewMemory()
	props := map[string]string{"group.id": "ingest"}
	conn, err := m.Factory()(props, nil)
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	if conn != m {
		t.Fatalf("expected factory to return the memory connector")
	}
	props["group.id"] = "changed"
	if got := m.Props()["group.id"]; got != "ingest" {
		t.Fatalf("expected copied props, got %q", got)
	}
}
