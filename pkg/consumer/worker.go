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

package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/novatechflow/tsingest/pkg/batcher"
	"github.com/novatechflow/tsingest/pkg/connector"
	"github.com/novatechflow/tsingest/pkg/model"
	"github.com/novatechflow/tsingest/pkg/schema"
)

// partitionWorker pulls one stream until it closes or the pool is cancelled.
type partitionWorker struct {
	stream   connector.Stream
	decoder  schema.Schema
	batcher  *batcher.Batcher
	reporter Reporter
	logger   *slog.Logger
	forward  func(ctx context.Context, batch model.Batch)
	// fatal is called once the stream failed for a reason other than shutdown.
	fatal func(err error)
}

func (w *partitionWorker) run(ctx context.Context) error {
	for {
		rec, err := w.stream.Next(ctx)
		if err != nil {
			if errors.Is(err, connector.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			w.fatal(err)
			return err
		}
		w.reporter.ReportMessage(rec.Topic, len(rec.Value))

		entry, err := w.decoder.Decode(rec.Value)
		if err != nil {
			w.reporter.ReportDecodeError(rec.Topic, err)
			w.logger.Warn("dropping undecodable record",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "error", err)
			w.stream.Mark(rec)
			continue
		}

		batch, ok := w.batcher.Write(entry)
		w.stream.Mark(rec)
		if ok {
			w.reporter.ReportBatch(len(batch))
			if len(batch) > 0 {
				// an in-flight batch is finished even if stop cancels the pool
				w.forward(context.WithoutCancel(ctx), batch)
			}
		}
		// a pulled record always reaches the batcher; stop only ends the loop
		if ctx.Err() != nil {
			return nil
		}
	}
}
