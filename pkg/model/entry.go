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

import (
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Series identifies a time series by key and tag set.
type Series struct {
	Key  string
	Tags map[string]string
}

// ID returns a stable hash of the key and sorted tags.
func (s Series) ID() uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(s.Key)
	for _, k := range s.sortedTagKeys() {
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{1})
		_, _ = d.WriteString(s.Tags[k])
	}
	return d.Sum64()
}

// String renders the series as key{k=v,...} with tags sorted by name.
func (s Series) String() string {
	var b strings.Builder
	b.WriteString(s.Key)
	b.WriteByte('{')
	for i, k := range s.sortedTagKeys() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Tags[k])
	}
	b.WriteByte('}')
	return b.String()
}

func (s Series) sortedTagKeys() []string {
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteEntry is a single decoded write. It is not modified after decoding.
type WriteEntry struct {
	Series    Series
	Timestamp time.Time
	Value     float64
}

// Batch is an ordered group of entries flushed as one unit.
type Batch []WriteEntry

// UniqueSeries returns the distinct series of the batch in first-seen order.
func (b Batch) UniqueSeries() []Series {
	seen := make(map[uint64]struct{}, len(b))
	out := make([]Series, 0, len(b))
	for _, entry := range b {
		id := entry.Series.ID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, entry.Series)
	}
	return out
}
