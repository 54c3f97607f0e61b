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

package model

import "testing"

func TestSeriesIDIgnoresTagOrder(t *testing.T) {
	a := Series{Key: "cpu", Tags: map[string]string{"host": "a", "dc": "eu"}}
	b := Series{Key: "cpu", Tags: map[string]string{"dc": "eu", "host": "a"}}
	if a.ID() != b.ID() {
		t.Fatalf("expected equal ids for same tag set")
	}
	c := Series{Key: "cpu", Tags: map[string]string{"host": "b", "dc": "eu"}}
	if a.ID() == c.ID() {
		t.Fatalf("expected different ids for different tags")
	}
	// key/value boundaries must not collide
	d := Series{Key: "cpu", Tags: map[string]string{"ab": "c"}}
	e := Series{Key: "cpu", Tags: map[string]string{"a": "bc"}}
	if d.ID() == e.ID() {
		t.Fatalf("expected tag boundary to affect id")
	}
}

func TestSeriesString(t *testing.T) {
	s := Series{Key: "mem", Tags: map[string]string{"role": "db", "host": "x"}}
	if got := s.String(); got != "mem{host=x,role=db}" {
		t.Fatalf("unexpected string %q", got)
	}
	if got := (Series{Key: "up"}).String(); got != "up{}" {
		t.Fatalf("unexpected string %q", got)
	}
}

func TestBatchUniqueSeries(t *testing.T) {
	a := Series{Key: "a"}
	b := Series{Key: "b", Tags: map[string]string{"x": "1"}}
	batch := Batch{{Series: a}, {Series: b}, {Series: a}, {Series: b}}
	got := batch.UniqueSeries()
	if len(got) != 2 {
		t.Fatalf("expected 2 series, got %d", len(got))
	}
	if got[0].Key != "a" || got[1].Key != "b" {
		t.Fatalf("unexpected order: %v", got)
	}
}
