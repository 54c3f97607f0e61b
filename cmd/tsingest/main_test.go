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

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/novatechflow/tsingest/internal/config"
	"github.com/novatechflow/tsingest/pkg/connector"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func memoryConfig(topic string, props map[string]string) config.Config {
	retries := 1
	return config.Config{
		Consumer: config.ConsumerConfig{
			Topics:          []string{topic},
			ThreadCount:     2,
			Schema:          "json",
			Config:          props,
			ShutdownTimeout: 5 * time.Second,
		},
		Batch:        config.BatchConfig{MaxSize: 2, MaxAge: time.Hour},
		Retry:        config.RetryConfig{MaxRetries: &retries, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		MetricSink:   config.MetricSinkConfig{Type: config.SinkMemory, Prefix: "metrics"},
		MetadataSink: config.MetadataSinkConfig{Type: config.SinkMemory},
	}
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

func servingStatusOf(t *testing.T, a *app) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := a.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	return resp.GetStatus()
}

func TestKafkaToMetricSink(t *testing.T) {
	const topic = "cpu"
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, topic))
	if err != nil {
		t.Fatalf("kfake: %v", err)
	}
	defer cluster.Close()
	addrs := strings.Join(cluster.ListenAddrs(), ",")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx, memoryConfig(topic, map[string]string{
		"bootstrap.servers": addrs,
		"auto.offset.reset": "earliest",
	}), connector.NewKafka, discardLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	h := a.handler()
	if code, _ := get(t, h, "/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready before start, got %d", code)
	}
	if status := servingStatusOf(t, a); status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before start, got %s", status)
	}

	if err := a.consumer.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a.updateHealth()
	if code, body := get(t, h, "/readyz"); code != http.StatusOK || !strings.Contains(body, "state=healthy") {
		t.Fatalf("expected ready, got %d %q", code, body)
	}
	if status := servingStatusOf(t, a); status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", status)
	}

	producer, err := kgo.NewClient(kgo.SeedBrokers(cluster.ListenAddrs()...))
	if err != nil {
		t.Fatalf("producer: %v", err)
	}
	defer producer.Close()
	for i := 1; i <= 5; i++ {
		value := fmt.Sprintf(`{"key":"cpu","host":"web-1","time":%d,"value":%d}`, 1700000000000+i, i)
		if err := producer.ProduceSync(ctx, &kgo.Record{Topic: topic, Value: []byte(value)}).FirstErr(); err != nil {
			t.Fatalf("produce: %v", err)
		}
	}

	waitFor(t, "two full batches", func() bool {
		objs, err := a.metrics.ListMetricObjects(ctx)
		return err == nil && len(objs) == 2
	})
	_, body := get(t, h, "/metrics")
	if !strings.Contains(body, `tsingest_consumer_messages_total{topic="cpu"} 5`) {
		t.Fatalf("messages counter missing from /metrics:\n%s", body)
	}
	if !strings.Contains(body, `tsingest_backend_health_state{state="healthy"} 1`) {
		t.Fatalf("health gauge missing from /metrics")
	}

	if err := a.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if a.consumer.IsReady() {
		t.Fatalf("consumer still running after shutdown")
	}

	objs, err := a.metrics.ListMetricObjects(ctx)
	if err != nil {
		t.Fatalf("ListMetricObjects: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("expected drained remainder as third object, got %d objects", len(objs))
	}
	values := make(map[float64]bool)
	for _, obj := range objs {
		batch, err := a.metrics.ReadMetrics(ctx, obj.Key)
		if err != nil {
			t.Fatalf("ReadMetrics %s: %v", obj.Key, err)
		}
		for _, e := range batch {
			values[e.Value] = true
		}
	}
	if len(values) != 5 {
		t.Fatalf("expected 5 distinct values, got %v", values)
	}

	series, err := a.series.Series(ctx)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if len(series) != 1 || series[0].Key != "cpu" || series[0].Tags["host"] != "web-1" {
		t.Fatalf("unexpected series: %+v", series)
	}
}

func TestSuperviseRestartsConsumer(t *testing.T) {
	mem := connector.NewMemory()
	a, err := newApp(context.Background(), memoryConfig("cpu", nil), mem.Factory(), discardLogger())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.consumer.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.supervise(ctx, 20*time.Millisecond)
	}()

	mem.Fail(errors.New("broker gone"))
	waitFor(t, "restart after connector failure", func() bool {
		return mem.Opens() >= 2 && a.consumer.IsReady()
	})
	waitFor(t, "serving status", func() bool {
		return servingStatusOf(t, a) == healthpb.HealthCheckResponse_SERVING
	})

	cancel()
	<-done
	if err := a.shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if mem.IsOpen() {
		t.Fatalf("connector still open after shutdown")
	}
}

func TestBuildMetadataSinkRequiresEndpoints(t *testing.T) {
	cfg := memoryConfig("cpu", nil)
	cfg.MetadataSink.Type = config.SinkEtcd
	if _, _, err := buildMetadataSink(cfg, discardLogger()); err == nil {
		t.Fatalf("expected error without etcd endpoints")
	}
}

func TestServingStatus(t *testing.T) {
	if servingStatus(true) != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("ready must be SERVING")
	}
	if servingStatus(false) != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("not ready must be NOT_SERVING")
	}
}

func TestNewLoggerLevel(t *testing.T) {
	ctx := context.Background()
	if !newLogger("debug").Enabled(ctx, slog.LevelDebug) {
		t.Fatalf("debug level not enabled")
	}
	if newLogger("").Enabled(ctx, slog.LevelDebug) || !newLogger("").Enabled(ctx, slog.LevelInfo) {
		t.Fatalf("default level must be info")
	}
	if newLogger("error").Enabled(ctx, slog.LevelWarn) {
		t.Fatalf("warn enabled at error level")
	}
}
