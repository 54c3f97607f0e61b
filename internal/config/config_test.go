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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `
consumer:
  topics: [metrics]
  config:
    bootstrap.servers: kafka:9092
    group.id: tsingest
metric_sink:
  s3:
    bucket: tsdata
metadata_sink:
  etcd:
    endpoints:
      - http://etcd:2379
`

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Consumer.ThreadCount != 2 || cfg.Consumer.Schema != "json" {
		t.Fatalf("unexpected consumer defaults: %+v", cfg.Consumer)
	}
	if cfg.Batch.MaxSize != 1000 || cfg.Batch.MaxAge != 15*time.Second {
		t.Fatalf("unexpected batch defaults: %+v", cfg.Batch)
	}
	if cfg.RetryConfig().MaxRetries != 3 || cfg.Retry.InitialInterval != 200*time.Millisecond {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.MetricSink.S3.Region != "us-east-1" {
		t.Fatalf("expected default region, got %q", cfg.MetricSink.S3.Region)
	}
	if cfg.MetricSink.Type != SinkS3 || cfg.MetadataSink.Type != SinkEtcd {
		t.Fatalf("unexpected sink types: %s %s", cfg.MetricSink.Type, cfg.MetadataSink.Type)
	}
	if cfg.Server.MetricsAddr != ":19093" || cfg.Server.ControlAddr != ":19094" || cfg.Log.Level != "info" {
		t.Fatalf("unexpected server defaults: %+v %+v", cfg.Server, cfg.Log)
	}

	cc := cfg.ConsumerConfig()
	if err := cc.Validate(); err != nil {
		t.Fatalf("consumer config invalid: %v", err)
	}
	if cc.DiscardOnStop || cc.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected consumer config: %+v", cc)
	}
	if cc.ConnectorConfig["group.id"] != "tsingest" {
		t.Fatalf("connector config not carried: %v", cc.ConnectorConfig)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	data := `
consumer:
  topics: [cpu, mem]
  thread_count: 4
  schema: protobuf
  drain_on_stop: false
  shutdown_timeout: 3s
  config:
    metadata.broker.list: kafka:9092
batch:
  max_size: 50
  max_age: 500ms
retry:
  max_retries: 5
metric_sink:
  type: memory
  prefix: raw
metadata_sink:
  type: memory
  key_prefix: /ts
log:
  level: debug
`
	cfg, err := Load(writeConfig(t, data))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cc := cfg.ConsumerConfig()
	if cc.ThreadCount != 4 || cc.Schema != "protobuf" || !cc.DiscardOnStop || cc.ShutdownTimeout != 3*time.Second {
		t.Fatalf("unexpected consumer config: %+v", cc)
	}
	if cc.Batch.MaxSize != 50 || cc.Batch.MaxAge != 500*time.Millisecond {
		t.Fatalf("unexpected batch config: %+v", cc.Batch)
	}
	if cfg.RetryConfig().MaxRetries != 5 {
		t.Fatalf("unexpected retry config: %+v", cfg.RetryConfig())
	}
	if cfg.MetricWriterConfig().Prefix != "raw" || cfg.EtcdStoreConfig().KeyPrefix != "/ts" {
		t.Fatalf("unexpected sink config")
	}
}

func TestLoadZeroRetriesDisablesRetry(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+"retry:\n  max_retries: 0\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got := cfg.RetryConfig().MaxRetries; got != 0 {
		t.Fatalf("expected retries disabled, got %d", got)
	}
	if cfg.RetryConfig().InitialInterval != 200*time.Millisecond {
		t.Fatalf("interval defaults must still apply: %+v", cfg.RetryConfig())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TSINGEST_LOG_LEVEL", "warn")
	t.Setenv("TSINGEST_METRICS_ADDR", ":9000")
	t.Setenv("TSINGEST_CONTROL_ADDR", ":9001")
	t.Setenv("TSINGEST_BOOTSTRAP_SERVERS", "broker-1:9092,broker-2:9092")

	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Log.Level != "warn" || cfg.Server.MetricsAddr != ":9000" || cfg.Server.ControlAddr != ":9001" {
		t.Fatalf("env overrides not applied: %+v %+v", cfg.Log, cfg.Server)
	}
	if cfg.Consumer.Config["bootstrap.servers"] != "broker-1:9092,broker-2:9092" {
		t.Fatalf("bootstrap override not applied: %v", cfg.Consumer.Config)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "missing topics",
			data: "consumer:\n  config:\n    bootstrap.servers: k:9092\nmetric_sink:\n  type: memory\nmetadata_sink:\n  type: memory\n",
			want: "consumer.topics",
		},
		{
			name: "unknown schema",
			data: "consumer:\n  topics: [a]\n  schema: avro\n  config:\n    bootstrap.servers: k:9092\nmetric_sink:\n  type: memory\nmetadata_sink:\n  type: memory\n",
			want: "consumer.schema",
		},
		{
			name: "missing brokers",
			data: "consumer:\n  topics: [a]\nmetric_sink:\n  type: memory\nmetadata_sink:\n  type: memory\n",
			want: "bootstrap.servers",
		},
		{
			name: "missing bucket",
			data: "consumer:\n  topics: [a]\n  config:\n    bootstrap.servers: k:9092\nmetadata_sink:\n  type: memory\n",
			want: "metric_sink.s3.bucket",
		},
		{
			name: "missing etcd",
			data: "consumer:\n  topics: [a]\n  config:\n    bootstrap.servers: k:9092\nmetric_sink:\n  type: memory\n",
			want: "metadata_sink.etcd.endpoints",
		},
		{
			name: "bad sink type",
			data: "consumer:\n  topics: [a]\n  config:\n    bootstrap.servers: k:9092\nmetric_sink:\n  type: gcs\nmetadata_sink:\n  type: memory\n",
			want: "metric_sink.type",
		},
		{
			name: "negative threads",
			data: "consumer:\n  topics: [a]\n  thread_count: -1\n  config:\n    bootstrap.servers: k:9092\nmetric_sink:\n  type: memory\nmetadata_sink:\n  type: memory\n",
			want: "consumer.thread_count",
		},
		{
			name: "negative retries",
			data: "consumer:\n  topics: [a]\n  config:\n    bootstrap.servers: k:9092\nretry:\n  max_retries: -1\nmetric_sink:\n  type: memory\nmetadata_sink:\n  type: memory\n",
			want: "retry.max_retries",
		},
		{
			name: "bad log level",
			data: "consumer:\n  topics: [a]\n  config:\n    bootstrap.servers: k:9092\nmetric_sink:\n  type: memory\nmetadata_sink:\n  type: memory\nlog:\n  level: loud\n",
			want: "log.level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.data))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
