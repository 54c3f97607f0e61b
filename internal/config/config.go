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
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/novatechflow/tsingest/pkg/backend"
	"github.com/novatechflow/tsingest/pkg/batcher"
	"github.com/novatechflow/tsingest/pkg/consumer"
	"github.com/novatechflow/tsingest/pkg/metadata"
	"github.com/novatechflow/tsingest/pkg/schema"
	"github.com/novatechflow/tsingest/pkg/storage"
)

const (
	SinkS3     = "s3"
	SinkEtcd   = "etcd"
	SinkMemory = "memory"

	defaultMetricsAddr = ":19093"
	defaultControlAddr = ":19094"
	defaultPrefix      = "metrics"
	defaultRegion      = "us-east-1"
)

// Config defines the tsingest configuration file.
type Config struct {
	Consumer     ConsumerConfig     `yaml:"consumer"`
	Batch        BatchConfig        `yaml:"batch"`
	Retry        RetryConfig        `yaml:"retry"`
	MetricSink   MetricSinkConfig   `yaml:"metric_sink"`
	MetadataSink MetadataSinkConfig `yaml:"metadata_sink"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
}

type ConsumerConfig struct {
	Topics      []string `yaml:"topics"`
	ThreadCount int      `yaml:"thread_count"`
	Schema      string   `yaml:"schema"`
	// Config is passed to the Kafka connector untouched.
	Config          map[string]string `yaml:"config"`
	DrainOnStop     *bool             `yaml:"drain_on_stop"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"`
}

type BatchConfig struct {
	MaxSize int           `yaml:"max_size"`
	MaxAge  time.Duration `yaml:"max_age"`
}

type RetryConfig struct {
	// MaxRetries is a pointer so that 0 can disable retries.
	MaxRetries      *int          `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

type MetricSinkConfig struct {
	Type             string           `yaml:"type"`
	Prefix           string           `yaml:"prefix"`
	CompressionLevel int              `yaml:"compression_level"`
	S3               storage.S3Config `yaml:"s3"`
}

type MetadataSinkConfig struct {
	Type          string     `yaml:"type"`
	KeyPrefix     string     `yaml:"key_prefix"`
	SeenCacheSize int        `yaml:"seen_cache_size"`
	Etcd          EtcdConfig `yaml:"etcd"`
}

type EtcdConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	ControlAddr string `yaml:"control_addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the file at path, applies TSINGEST_* environment overrides and
// defaults, and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := envValue("TSINGEST_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := envValue("TSINGEST_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := envValue("TSINGEST_CONTROL_ADDR"); v != "" {
		c.Server.ControlAddr = v
	}
	if v := envValue("TSINGEST_BOOTSTRAP_SERVERS"); v != "" {
		if c.Consumer.Config == nil {
			c.Consumer.Config = make(map[string]string)
		}
		delete(c.Consumer.Config, "metadata.broker.list")
		c.Consumer.Config["bootstrap.servers"] = v
	}
}

func (c *Config) applyDefaults() {
	if c.Consumer.ThreadCount == 0 {
		c.Consumer.ThreadCount = consumer.DefaultThreadCount
	}
	if c.Consumer.Schema == "" {
		c.Consumer.Schema = schema.JSONName
	}
	if c.Consumer.DrainOnStop == nil {
		drain := true
		c.Consumer.DrainOnStop = &drain
	}
	if c.Consumer.ShutdownTimeout == 0 {
		c.Consumer.ShutdownTimeout = consumer.DefaultShutdownTimeout
	}
	if c.Batch.MaxSize == 0 {
		c.Batch.MaxSize = batcher.DefaultMaxSize
	}
	if c.Batch.MaxAge == 0 {
		c.Batch.MaxAge = batcher.DefaultMaxAge
	}
	def := backend.DefaultRetryConfig()
	if c.Retry.MaxRetries == nil {
		retries := def.MaxRetries
		c.Retry.MaxRetries = &retries
	}
	if c.Retry.InitialInterval == 0 {
		c.Retry.InitialInterval = def.InitialInterval
	}
	if c.Retry.MaxInterval == 0 {
		c.Retry.MaxInterval = def.MaxInterval
	}
	if c.MetricSink.Type == "" {
		c.MetricSink.Type = SinkS3
	}
	if c.MetricSink.Type == SinkS3 && c.MetricSink.S3.Region == "" {
		c.MetricSink.S3.Region = defaultRegion
	}
	if c.MetricSink.Prefix == "" {
		c.MetricSink.Prefix = defaultPrefix
	}
	if c.MetadataSink.Type == "" {
		c.MetadataSink.Type = SinkEtcd
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = defaultMetricsAddr
	}
	if c.Server.ControlAddr == "" {
		c.Server.ControlAddr = defaultControlAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c Config) validate() error {
	if len(c.Consumer.Topics) == 0 {
		return errors.New("consumer.topics is required")
	}
	for i, topic := range c.Consumer.Topics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("consumer.topics[%d] must not be empty", i)
		}
	}
	if c.Consumer.ThreadCount < 1 {
		return fmt.Errorf("consumer.thread_count must be >= 1, got %d", c.Consumer.ThreadCount)
	}
	if _, err := schema.Default.Lookup(c.Consumer.Schema); err != nil {
		return fmt.Errorf("consumer.schema: %w", err)
	}
	if c.Consumer.Config["bootstrap.servers"] == "" && c.Consumer.Config["metadata.broker.list"] == "" {
		return errors.New("consumer.config.bootstrap.servers is required")
	}
	if c.Batch.MaxSize < 0 {
		return fmt.Errorf("batch.max_size must not be negative, got %d", c.Batch.MaxSize)
	}
	if c.Batch.MaxAge < 0 {
		return fmt.Errorf("batch.max_age must not be negative, got %s", c.Batch.MaxAge)
	}
	if c.Retry.MaxRetries != nil && *c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", *c.Retry.MaxRetries)
	}
	switch c.MetricSink.Type {
	case SinkS3:
		if c.MetricSink.S3.Bucket == "" {
			return errors.New("metric_sink.s3.bucket is required for metric_sink.type=s3")
		}
	case SinkMemory:
	default:
		return fmt.Errorf("metric_sink.type %q is not supported", c.MetricSink.Type)
	}
	switch c.MetadataSink.Type {
	case SinkEtcd:
		if len(c.MetadataSink.Etcd.Endpoints) == 0 {
			return errors.New("metadata_sink.etcd.endpoints is required for metadata_sink.type=etcd")
		}
	case SinkMemory:
	default:
		return fmt.Errorf("metadata_sink.type %q is not supported", c.MetadataSink.Type)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not supported", c.Log.Level)
	}
	return nil
}

// ConsumerConfig converts the file sections into a consumer config.
func (c Config) ConsumerConfig() consumer.Config {
	props := make(map[string]string, len(c.Consumer.Config))
	for k, v := range c.Consumer.Config {
		props[k] = v
	}
	drain := true
	if c.Consumer.DrainOnStop != nil {
		drain = *c.Consumer.DrainOnStop
	}
	return consumer.Config{
		Topics:          append([]string(nil), c.Consumer.Topics...),
		ThreadCount:     c.Consumer.ThreadCount,
		ConnectorConfig: props,
		Schema:          c.Consumer.Schema,
		Batch:           batcher.Config{MaxSize: c.Batch.MaxSize, MaxAge: c.Batch.MaxAge},
		ShutdownTimeout: c.Consumer.ShutdownTimeout,
		DiscardOnStop:   !drain,
	}
}

func (c Config) RetryConfig() backend.RetryConfig {
	retries := backend.DefaultRetryConfig().MaxRetries
	if c.Retry.MaxRetries != nil {
		retries = *c.Retry.MaxRetries
	}
	return backend.RetryConfig{
		MaxRetries:      retries,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
	}
}

func (c Config) MetricWriterConfig() storage.MetricWriterConfig {
	return storage.MetricWriterConfig{Prefix: c.MetricSink.Prefix, CompressionLevel: c.MetricSink.CompressionLevel}
}

func (c Config) EtcdStoreConfig() metadata.EtcdStoreConfig {
	return metadata.EtcdStoreConfig{
		Endpoints:     c.MetadataSink.Etcd.Endpoints,
		Username:      c.MetadataSink.Etcd.Username,
		Password:      c.MetadataSink.Etcd.Password,
		DialTimeout:   c.MetadataSink.Etcd.DialTimeout,
		KeyPrefix:     c.MetadataSink.KeyPrefix,
		SeenCacheSize: c.MetadataSink.SeenCacheSize,
	}
}

func envValue(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}
