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

// Package metrics exports consumer signals as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tsingest_consumer"

// Reporter implements consumer.Reporter.
type Reporter struct {
	messages        *prometheus.CounterVec
	messageBytes    *prometheus.HistogramVec
	decodeErrors    *prometheus.CounterVec
	batches         prometheus.Counter
	batchSize       prometheus.Histogram
	emptyBatches    prometheus.Counter
	writeFailures   prometheus.Counter
	droppedEntries  prometheus.Counter
	connectorErrors prometheus.Counter
	running         prometheus.Gauge
}

// NewReporter registers the consumer metrics against reg. A nil reg
// leaves the collectors unregistered.
func NewReporter(reg prometheus.Registerer) *Reporter {
	f := promauto.With(reg)
	return &Reporter{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Records received from the connector.",
		}, []string{"topic"}),
		messageBytes: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_bytes",
			Help:      "Size of received record payloads.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"topic"}),
		decodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Records skipped because the schema could not decode them.",
		}, []string{"topic"}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Batches emitted by the batcher.",
		}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Entries per emitted batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		emptyBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "empty_batches_total",
			Help:      "Time-triggered batches that carried no entries.",
		}),
		writeFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Batches the backend failed to persist.",
		}),
		droppedEntries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_entries_total",
			Help:      "Entries lost with failed batches.",
		}),
		connectorErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_errors_total",
			Help:      "Connector acquisition and fatal stream errors.",
		}),
		running: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while the consumer is running.",
		}),
	}
}

func (r *Reporter) ReportMessage(topic string, size int) {
	r.messages.WithLabelValues(topic).Inc()
	r.messageBytes.WithLabelValues(topic).Observe(float64(size))
}

func (r *Reporter) ReportDecodeError(topic string, _ error) {
	r.decodeErrors.WithLabelValues(topic).Inc()
}

func (r *Reporter) ReportBatch(size int) {
	r.batches.Inc()
	if size == 0 {
		r.emptyBatches.Inc()
		return
	}
	r.batchSize.Observe(float64(size))
}

func (r *Reporter) ReportWriteFailure(size int, _ error) {
	r.writeFailures.Inc()
	r.droppedEntries.Add(float64(size))
}

func (r *Reporter) ReportConnectorError(error) {
	r.connectorErrors.Inc()
}

func (r *Reporter) ReportRunning(running bool) {
	if running {
		r.running.Set(1)
		return
	}
	r.running.Set(0)
}
