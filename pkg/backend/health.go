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
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// HealthState is the writer's view of its downstream sinks.
type HealthState string

const (
	StateHealthy     HealthState = "healthy"
	StateDegraded    HealthState = "degraded"
	StateUnavailable HealthState = "unavailable"
)

// HealthConfig defines thresholds for transitioning between states.
type HealthConfig struct {
	Window      time.Duration
	LatencyWarn time.Duration
	LatencyCrit time.Duration
	ErrorWarn   float64
	ErrorCrit   float64
	MaxSamples  int
}

// HealthMonitor aggregates recent sink operations into a health state.
type HealthMonitor struct {
	cfg   HealthConfig
	clock clockwork.Clock

	mu         sync.Mutex
	samples    []sample
	state      HealthState
	stateSince time.Time
	avgLatency time.Duration
	errorRate  float64
	lastErr    map[string]string
	onChange   []func(from, to HealthState)
}

type sample struct {
	ts      time.Time
	sink    string
	latency time.Duration
	err     bool
}

// HealthSnapshot captures the monitor's public aggregates.
type HealthSnapshot struct {
	State      HealthState
	Since      time.Time
	AvgLatency time.Duration
	ErrorRate  float64
	Samples    int
	// LastError holds the most recent error message per sink.
	LastError map[string]string
}

// NewHealthMonitor builds a monitor; zero thresholds take defaults.
func NewHealthMonitor(cfg HealthConfig, clock clockwork.Clock) *HealthMonitor {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.LatencyWarn <= 0 {
		cfg.LatencyWarn = time.Second
	}
	if cfg.LatencyCrit <= 0 {
		cfg.LatencyCrit = 5 * time.Second
	}
	if cfg.ErrorWarn <= 0 {
		cfg.ErrorWarn = 0.2
	}
	if cfg.ErrorCrit <= 0 {
		cfg.ErrorCrit = 0.6
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 512
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HealthMonitor{
		cfg:        cfg,
		clock:      clock,
		state:      StateHealthy,
		stateSince: clock.Now(),
		lastErr:    make(map[string]string),
	}
}

// OnChange registers fn to run on every state transition. fn runs with the
// monitor's lock held and must not call back into it.
func (m *HealthMonitor) OnChange(fn func(from, to HealthState)) {
	m.mu.Lock()
	m.onChange = append(m.onChange, fn)
	m.mu.Unlock()
}

// Record adds the outcome of one sink operation.
func (m *HealthMonitor) Record(sink string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.samples = append(m.samples, sample{ts: now, sink: sink, latency: latency, err: err != nil})
	if err != nil {
		m.lastErr[sink] = err.Error()
	}
	if len(m.samples) > m.cfg.MaxSamples {
		m.samples = m.samples[len(m.samples)-m.cfg.MaxSamples:]
	}
	m.truncateLocked(now)
	m.recomputeLocked(now)
}

// Snapshot returns the state after expiring samples older than the window.
func (m *HealthMonitor) Snapshot() HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.truncateLocked(now)
	m.recomputeLocked(now)
	lastErr := make(map[string]string, len(m.lastErr))
	for k, v := range m.lastErr {
		lastErr[k] = v
	}
	return HealthSnapshot{
		State:      m.state,
		Since:      m.stateSince,
		AvgLatency: m.avgLatency,
		ErrorRate:  m.errorRate,
		Samples:    len(m.samples),
		LastError:  lastErr,
	}
}

// State returns just the current health state.
func (m *HealthMonitor) State() HealthState {
	return m.Snapshot().State
}

func (m *HealthMonitor) truncateLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	idx := 0
	for idx < len(m.samples) && !m.samples[idx].ts.After(cutoff) {
		idx++
	}
	switch {
	case idx >= len(m.samples):
		m.samples = nil
	case idx > 0:
		m.samples = append([]sample(nil), m.samples[idx:]...)
	}
}

func (m *HealthMonitor) recomputeLocked(now time.Time) {
	if len(m.samples) == 0 {
		m.avgLatency = 0
		m.errorRate = 0
		m.setStateLocked(now, StateHealthy)
		return
	}
	var (
		totalLatency time.Duration
		errorCount   int
	)
	for _, s := range m.samples {
		totalLatency += s.latency
		if s.err {
			errorCount++
		}
	}
	m.avgLatency = totalLatency / time.Duration(len(m.samples))
	m.errorRate = float64(errorCount) / float64(len(m.samples))

	next := StateHealthy
	if m.avgLatency >= m.cfg.LatencyCrit || m.errorRate >= m.cfg.ErrorCrit {
		next = StateUnavailable
	} else if m.avgLatency >= m.cfg.LatencyWarn || m.errorRate >= m.cfg.ErrorWarn {
		next = StateDegraded
	}
	m.setStateLocked(now, next)
}

func (m *HealthMonitor) setStateLocked(now time.Time, next HealthState) {
	if next == m.state {
		return
	}
	prev := m.state
	m.state = next
	m.stateSince = now
	for _, fn := range m.onChange {
		fn(prev, next)
	}
}
