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

package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"

	"github.com/novatechflow/tsingest/pkg/model"
)

const (
	metricObjectSuffix      = ".jsonl.gz"
	metricObjectContentType = "application/gzip"
)

// MetricWriterConfig configures a MetricWriter.
type MetricWriterConfig struct {
	// Prefix is prepended to every object key.
	Prefix string
	// CompressionLevel is a gzip level; zero means gzip.DefaultCompression.
	CompressionLevel int
}

// MetricWriter stores each batch as one gzip compressed JSON-lines object
// under <prefix>/dt=YYYY-MM-DD/hour=HH/<uuid>.jsonl.gz, partitioned by the
// time the batch was written.
type MetricWriter struct {
	client ObjectClient
	cfg    MetricWriterConfig
	clock  clockwork.Clock
	newID  func() string
}

// NewMetricWriter builds a writer on top of client.
func NewMetricWriter(client ObjectClient, cfg MetricWriterConfig, clock clockwork.Clock) (*MetricWriter, error) {
	if client == nil {
		return nil, errors.New("storage: object client required")
	}
	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = gzip.DefaultCompression
	}
	if cfg.CompressionLevel < gzip.HuffmanOnly || cfg.CompressionLevel > gzip.BestCompression {
		return nil, fmt.Errorf("storage: invalid gzip level %d", cfg.CompressionLevel)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MetricWriter{client: client, cfg: cfg, clock: clock, newID: uuid.NewString}, nil
}

type metricLine struct {
	Key   string            `json:"key"`
	Tags  map[string]string `json:"tags,omitempty"`
	TS    int64             `json:"ts"`
	Value jsonFloat         `json:"value"`
}

// jsonFloat keeps NaN and infinities, which plain JSON numbers cannot carry.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte(strconv.Quote(strconv.FormatFloat(v, 'g', -1, 64))), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	s := string(data)
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid metric value %s: %w", data, err)
	}
	*f = jsonFloat(v)
	return nil
}

// ObjectKey returns the key for an object written at t.
func (w *MetricWriter) ObjectKey(t time.Time, id string) string {
	t = t.UTC()
	name := fmt.Sprintf("dt=%s/hour=%02d/%s%s", t.Format("2006-01-02"), t.Hour(), id, metricObjectSuffix)
	if w.cfg.Prefix == "" {
		return name
	}
	return path.Join(w.cfg.Prefix, name)
}

// WriteMetrics encodes batch and uploads it as a single object.
func (w *MetricWriter) WriteMetrics(ctx context.Context, batch model.Batch) error {
	if len(batch) == 0 {
		return nil
	}
	body, err := w.encode(batch)
	if err != nil {
		return err
	}
	key := w.ObjectKey(w.clock.Now(), w.newID())
	return w.client.PutObject(ctx, key, body, metricObjectContentType)
}

func (w *MetricWriter) encode(batch model.Batch) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, w.cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(zw)
	for _, e := range batch {
		line := metricLine{
			Key:   e.Series.Key,
			Tags:  e.Series.Tags,
			TS:    e.Timestamp.UnixMilli(),
			Value: jsonFloat(e.Value),
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("storage: encode entry: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("storage: compress batch: %w", err)
	}
	return buf.Bytes(), nil
}

// ListMetricObjects returns every metric object under the writer's prefix.
func (w *MetricWriter) ListMetricObjects(ctx context.Context) ([]Object, error) {
	prefix := w.cfg.Prefix
	if prefix != "" {
		prefix += "/"
	}
	objs, err := w.client.ListObjects(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := objs[:0]
	for _, obj := range objs {
		if strings.HasSuffix(obj.Key, metricObjectSuffix) {
			out = append(out, obj)
		}
	}
	return out, nil
}

// ReadMetrics downloads and decodes one metric object.
func (w *MetricWriter) ReadMetrics(ctx context.Context, key string) (model.Batch, error) {
	data, err := w.client.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", key, err)
	}
	defer zr.Close()

	var batch model.Batch
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var line metricLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("storage: decode %s line %d: %w", key, len(batch)+1, err)
		}
		batch = append(batch, model.WriteEntry{
			Series:    model.Series{Key: line.Key, Tags: line.Tags},
			Timestamp: time.UnixMilli(line.TS).UTC(),
			Value:     float64(line.Value),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return batch, nil
}
