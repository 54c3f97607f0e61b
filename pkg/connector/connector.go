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
	"log/slog"
	"time"
)

// ErrClosed is returned by Stream.Next once the connector has been shut down.
var ErrClosed = errors.New("connector closed")

// Record is one raw record pulled from a partition.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	// LeaderEpoch is -1 when the source does not track epochs.
	LeaderEpoch int32
	Key         []byte
	Value       []byte
	Timestamp   time.Time
}

// Stream delivers the records of one or more partitions in partition order.
type Stream interface {
	Topic() string
	// Next blocks until a record is available. It returns ErrClosed after
	// Shutdown, ctx.Err() on cancellation and any other error when the
	// connector failed for good.
	Next(ctx context.Context) (Record, error)
	// Mark records that rec reached the batcher. Connectors that track
	// progress commit at most up to the last marked record of a partition,
	// so anything pulled but never marked is delivered again.
	Mark(rec Record)
}

// Connector assigns partitions and delivers their records.
type Connector interface {
	// Streams opens the connector and returns counts[topic] streams per topic.
	Streams(ctx context.Context, counts map[string]int) (map[string][]Stream, error)
	// Shutdown unblocks every pending Next with ErrClosed. Safe to call more than once.
	Shutdown()
}

// Factory builds a connector from verbatim connection properties.
type Factory func(props map[string]string, logger *slog.Logger) (Connector, error)

func validateCounts(counts map[string]int) error {
	if len(counts) == 0 {
		return errors.New("connector: at least one topic required")
	}
	for topic, n := range counts {
		if topic == "" {
			return errors.New("connector: empty topic name")
		}
		if n < 1 {
			return errors.New("connector: stream count must be at least 1 for topic " + topic)
		}
	}
	return nil
}
