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

package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/novatechflow/tsingest/pkg/model"
)

func TestInMemoryStoreKeepsFirstSeen(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1000))
	store := NewInMemoryStore(clock)
	ctx := context.Background()

	cpu := model.Series{Key: "cpu", Tags: map[string]string{"host": "a"}}
	mem := model.Series{Key: "mem"}
	if err := store.WriteSeries(ctx, []model.Series{cpu}); err != nil {
		t.Fatalf("WriteSeries: %v", err)
	}
	clock.Advance(time.Second)
	if err := store.WriteSeries(ctx, []model.Series{cpu, mem}); err != nil {
		t.Fatalf("WriteSeries: %v", err)
	}

	recs, err := store.Series(ctx)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 series got %d", len(recs))
	}
	if recs[0].Key != "cpu" || recs[0].FirstSeenMs != 1000 || recs[0].Tags["host"] != "a" {
		t.Fatalf("unexpected cpu record %+v", recs[0])
	}
	if recs[1].Key != "mem" || recs[1].FirstSeenMs != 2000 || recs[1].Tags != nil {
		t.Fatalf("unexpected mem record %+v", recs[1])
	}
}

func TestInMemoryStoreCopiesTags(t *testing.T) {
	store := NewInMemoryStore(nil)
	tags := map[string]string{"host": "a"}
	if err := store.WriteSeries(context.Background(), []model.Series{{Key: "cpu", Tags: tags}}); err != nil {
		t.Fatalf("WriteSeries: %v", err)
	}
	tags["host"] = "b"
	recs, _ := store.Series(context.Background())
	if recs[0].Tags["host"] != "a" {
		t.Fatalf("stored tags alias the caller's map")
	}
}

func TestSeenSetEvictsOldest(t *testing.T) {
	s := newSeenSet(3)
	for id := uint64(1); id <= 3; id++ {
		s.add(id)
	}
	s.add(2)
	if s.len() != 3 {
		t.Fatalf("expected 3 ids got %d", s.len())
	}
	s.add(4)
	if s.contains(1) {
		t.Fatalf("expected oldest id evicted")
	}
	for _, id := range []uint64{2, 3, 4} {
		if !s.contains(id) {
			t.Fatalf("expected id %d retained", id)
		}
	}
	s.add(5)
	if s.contains(2) || !s.contains(5) {
		t.Fatalf("eviction order broken")
	}

	disabled := newSeenSet(-1)
	disabled.add(1)
	if disabled.contains(1) {
		t.Fatalf("disabled set must not remember ids")
	}
}
