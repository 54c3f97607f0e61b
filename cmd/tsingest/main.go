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
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/novatechflow/tsingest/internal/config"
	"github.com/novatechflow/tsingest/pkg/backend"
	"github.com/novatechflow/tsingest/pkg/connector"
	"github.com/novatechflow/tsingest/pkg/consumer"
	"github.com/novatechflow/tsingest/pkg/metadata"
	"github.com/novatechflow/tsingest/pkg/metrics"
	"github.com/novatechflow/tsingest/pkg/storage"
)

const (
	serviceName       = "tsingest"
	superviseInterval = 5 * time.Second
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/tsingest.yaml", "Path to tsingest config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := newLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, connector.NewKafka, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	if err := a.run(ctx); err != nil {
		logger.Error("tsingest stopped with error", "error", err)
		os.Exit(1)
	}
}

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	consumer *consumer.Consumer
	writer   *backend.Writer
	metrics  *storage.MetricWriter
	series   metadata.Store
	registry *prometheus.Registry
	health   *health.Server
	closers  []func() error
}

func newApp(ctx context.Context, cfg config.Config, connect connector.Factory, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		health:   health.NewServer(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metricWriter, err := buildMetricSink(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.metrics = metricWriter
	series, closeSeries, err := buildMetadataSink(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.series = series
	if closeSeries != nil {
		a.closers = append(a.closers, closeSeries)
	}

	monitor := backend.NewHealthMonitor(backend.HealthConfig{}, nil)
	monitor.OnChange(func(from, to backend.HealthState) {
		logger.Warn("backend health changed", "from", from, "to", to)
	})
	registerHealthMetrics(a.registry, monitor)
	a.writer, err = backend.NewWriter(metricWriter, series, backend.WriterOptions{
		Retry:  cfg.RetryConfig(),
		Health: monitor,
		Logger: logger,
	})
	if err != nil {
		_ = a.close()
		return nil, err
	}

	a.consumer, err = consumer.New(cfg.ConsumerConfig(), consumer.Options{
		Connect:  connect,
		Backend:  a.writer,
		Reporter: metrics.NewReporter(a.registry),
		Logger:   logger,
	})
	if err != nil {
		_ = a.close()
		return nil, err
	}
	a.updateHealth()
	return a, nil
}

func buildMetricSink(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage.MetricWriter, error) {
	var client storage.ObjectClient
	switch cfg.MetricSink.Type {
	case config.SinkMemory:
		logger.Warn("using in-memory metric sink; batches are not persisted")
		client = storage.NewMemoryObjectClient()
	default:
		s3Client, err := storage.NewS3Client(ctx, cfg.MetricSink.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 client init: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("s3 bucket %s: %w", cfg.MetricSink.S3.Bucket, err)
		}
		logger.Info("using s3 metric sink", "bucket", cfg.MetricSink.S3.Bucket, "region", cfg.MetricSink.S3.Region, "endpoint", cfg.MetricSink.S3.Endpoint)
		client = s3Client
	}
	return storage.NewMetricWriter(client, cfg.MetricWriterConfig(), nil)
}

func buildMetadataSink(cfg config.Config, logger *slog.Logger) (metadata.Store, func() error, error) {
	if cfg.MetadataSink.Type == config.SinkMemory {
		logger.Warn("using in-memory metadata sink; series are not persisted")
		return metadata.NewInMemoryStore(nil), nil, nil
	}
	store, err := metadata.NewEtcdStore(cfg.EtcdStoreConfig(), nil, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("etcd store init: %w", err)
	}
	logger.Info("using etcd metadata sink", "endpoints", cfg.MetadataSink.Etcd.Endpoints)
	return store, store.Close, nil
}

func (a *app) run(ctx context.Context) error {
	startMetricsServer(ctx, a.cfg.Server.MetricsAddr, a, a.logger)
	startControlServer(ctx, a.cfg.Server.ControlAddr, a.health, a.logger)

	if err := a.consumer.Start(ctx); err != nil {
		_ = a.close()
		return err
	}
	a.updateHealth()

	supervised := make(chan struct{})
	go func() {
		defer close(supervised)
		a.supervise(ctx, superviseInterval)
	}()
	<-ctx.Done()
	<-supervised
	return a.shutdown()
}

// supervise restarts the consumer after it stopped itself on a connector
// failure and keeps the gRPC health status current.
func (a *app) supervise(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !a.consumer.IsReady() {
			err := a.consumer.Start(ctx)
			switch {
			case err == nil:
				a.logger.Info("consumer restarted")
			case errors.Is(err, consumer.ErrAlreadyRunning):
			default:
				a.logger.Warn("consumer restart failed", "error", err)
			}
		}
		a.updateHealth()
	}
}

func (a *app) shutdown() error {
	timeout := a.consumer.Config().ShutdownTimeout + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var errs []error
	if err := a.consumer.Stop(ctx); err != nil && !errors.Is(err, consumer.ErrNotRunning) {
		errs = append(errs, err)
	}
	a.consumer.Wait()
	a.health.Shutdown()
	errs = append(errs, a.close())
	a.logger.Info("tsingest stopped")
	return errors.Join(errs...)
}

func (a *app) close() error {
	var errs []error
	for _, fn := range a.closers {
		errs = append(errs, fn())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *app) readiness() (bool, backend.HealthState) {
	state := a.writer.Health().State()
	return a.consumer.IsReady() && state != backend.StateUnavailable, state
}

func (a *app) updateHealth() {
	ready, _ := a.readiness()
	status := servingStatus(ready)
	a.health.SetServingStatus("", status)
	a.health.SetServingStatus(serviceName, status)
}

func servingStatus(ready bool) healthpb.HealthCheckResponse_ServingStatus {
	if ready {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok state=%s\n", a.writer.Health().State())
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if ready, state := a.readiness(); !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "not ready state=%s\n", state)
		} else {
			fmt.Fprintf(w, "ready state=%s\n", state)
		}
	})
	return mux
}

func startMetricsServer(ctx context.Context, addr string, a *app, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
}

func startControlServer(ctx context.Context, addr string, hs *health.Server, logger *slog.Logger) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("control server listen error", "error", err)
		return
	}
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	go func() {
		<-ctx.Done()
		done := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			server.Stop()
		}
	}()
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("control server error", "error", err)
		}
	}()
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: true,
	})
	return slog.New(handler).With("service", serviceName)
}
