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

// Package metadata records which series have been ingested.
package metadata

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/novatechflow/tsingest/pkg/model"
)

// SeriesRecord is the stored form of a series.
type SeriesRecord struct {
	Key         string            `json:"key"`
	Tags        map[string]string `json:"tags,omitempty"`
	FirstSeenMs int64             `json:"first_seen_ms"`
}

// Series returns the model form of the record.
func (r SeriesRecord) Series() model.Series {
	return model.Series{Key: r.Key, Tags: r.Tags}
}

// Store persists series metadata. WriteSeries only creates series that are
// not stored yet; the first-seen time of an existing series never changes.
type Store interface {
	WriteSeries(ctx context.Context, series []model.Series) error
	Series(ctx context.Context) ([]SeriesRecord, error)
}

// InMemoryStore keeps series in a map. It is safe for concurrent use.
type InMemoryStore struct {
	clock clockwork.Clock

	mu     sync.RWMutex
	series map[uint64]SeriesRecord
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore(clock clockwork.Clock) *InMemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &InMemoryStore{clock: clock, series: make(map[uint64]SeriesRecord)}
}

func (s *InMemoryStore) WriteSeries(_ context.Context, series []model.Series) error {
	now := s.clock.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ser := range series {
		id := ser.ID()
		if _, ok := s.series[id]; ok {
			continue
		}
		s.series[id] = newRecord(ser, now)
	}
	return nil
}

func (s *InMemoryStore) Series(context.Context) ([]SeriesRecord, error) {
	s.mu.RLock()
	out := make([]SeriesRecord, 0, len(s.series))
	for _, rec := range s.series {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func newRecord(ser model.Series, firstSeenMs int64) SeriesRecord {
	var tags map[string]string
	if len(ser.Tags) > 0 {
		tags = make(map[string]string, len(ser.Tags))
		for k, v := range ser.Tags {
			tags[k] = v
		}
	}
	return SeriesRecord{Key: ser.Key, Tags: tags, FirstSeenMs: firstSeenMs}
}

func sortRecords(recs []SeriesRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Series().String() < recs[j].Series().String()
	})
}

// seenSet remembers recently written series ids, evicting the oldest once
// capacity is reached.
type seenSet struct {
	mu    sync.Mutex
	limit int
	ids   map[uint64]struct{}
	order []uint64
	next  int
}

func newSeenSet(capacity int) *seenSet {
	if capacity < 0 {
		capacity = 0
	}
	return &seenSet{limit: capacity, ids: make(map[uint64]struct{}, capacity)}
}

func (s *seenSet) contains(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *seenSet) add(id uint64) {
	if s.limit <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return
	}
	if len(s.order) < s.limit {
		s.order = append(s.order, id)
	} else {
		delete(s.ids, s.order[s.next])
		s.order[s.next] = id
		s.next = (s.next + 1) % s.limit
	}
	s.ids[id] = struct{}{}
}

func (s *seenSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

const defaultOpTimeout = 3 * time.Second
