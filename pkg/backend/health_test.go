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

package backend

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestHealthStateTransitions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	monitor := NewHealthMonitor(HealthConfig{
		Window:      time.Minute,
		LatencyWarn: time.Millisecond,
		LatencyCrit: time.Hour,
		ErrorWarn:   0.5,
		ErrorCrit:   0.8,
		MaxSamples:  64,
	}, clock)

	var transitions []HealthState
	monitor.OnChange(func(_, to HealthState) { transitions = append(transitions, to) })

	if got := monitor.State(); got != StateHealthy {
		t.Fatalf("expected initial state healthy got %s", got)
	}

	monitor.Record(SinkMetrics, 2*time.Millisecond, nil)
	if got := monitor.State(); got != StateDegraded {
		t.Fatalf("expected degraded after high latency got %s", got)
	}

	for i := 0; i < 10; i++ {
		monitor.Record(SinkMetadata, 100*time.Microsecond, errors.New("etcd unavailable"))
	}
	snap := monitor.Snapshot()
	if snap.State != StateUnavailable {
		t.Fatalf("expected unavailable after repeated errors got %s", snap.State)
	}
	if snap.LastError[SinkMetadata] != "etcd unavailable" {
		t.Fatalf("expected last metadata error, got %v", snap.LastError)
	}

	for i := 0; i < 20; i++ {
		monitor.Record(SinkMetrics, 100*time.Microsecond, nil)
	}
	if got := monitor.State(); got != StateHealthy {
		t.Fatalf("expected healthy after recovery got %s", got)
	}

	want := []HealthState{StateDegraded, StateUnavailable, StateDegraded, StateHealthy}
	if len(transitions) != len(want) {
		t.Fatalf("unexpected transitions %v", transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("unexpected transitions %v", transitions)
		}
	}
}

func TestHealthSamplesExpire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	monitor := NewHealthMonitor(HealthConfig{Window: 10 * time.Second}, clock)

	for i := 0; i < 5; i++ {
		monitor.Record(SinkMetrics, time.Millisecond, errors.New("s3 timeout"))
	}
	if got := monitor.State(); got != StateUnavailable {
		t.Fatalf("expected unavailable got %s", got)
	}

	clock.Advance(11 * time.Second)
	snap := monitor.Snapshot()
	if snap.State != StateHealthy || snap.Samples != 0 {
		t.Fatalf("expected expired window to report healthy, got %+v", snap)
	}
	if !snap.Since.Equal(clock.Now()) {
		t.Fatalf("expected state change at %s, got %s", clock.Now(), snap.Since)
	}
}

func TestHealthMaxSamples(t *testing.T) {
	monitor := NewHealthMonitor(HealthConfig{MaxSamples: 4}, clockwork.NewFakeClock())
	for i := 0; i < 4; i++ {
		monitor.Record(SinkMetrics, 0, errors.New("boom"))
	}
	for i := 0; i < 4; i++ {
		monitor.Record(SinkMetrics, 0, nil)
	}
	snap := monitor.Snapshot()
	if snap.Samples != 4 || snap.ErrorRate != 0 {
		t.Fatalf("expected only the newest samples, got %+v", snap)
	}
}
