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

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/novatechflow/tsingest/pkg/model"
)

const (
	defaultKeyPrefix     = "/tsingest"
	defaultSeenCacheSize = 100_000
)

// EtcdStoreConfig defines how we connect to etcd for series metadata.
type EtcdStoreConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// KeyPrefix roots every key written by the store.
	KeyPrefix string `yaml:"key_prefix"`
	// SeenCacheSize bounds the in-process set of series known to be stored.
	SeenCacheSize int `yaml:"seen_cache_size"`
}

// EtcdStore keeps one key per series under <prefix>/series/<id>. Keys are
// created with a version-0 transaction so concurrent writers never move a
// series' first-seen time.
type EtcdStore struct {
	client *clientv3.Client
	prefix string
	seen   *seenSet
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewEtcdStore connects to etcd.
func NewEtcdStore(cfg EtcdStoreConfig, clock clockwork.Clock, logger *slog.Logger) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return newEtcdStoreWithClient(cli, cfg, clock, logger), nil
}

func newEtcdStoreWithClient(cli *clientv3.Client, cfg EtcdStoreConfig, clock clockwork.Clock, logger *slog.Logger) *EtcdStore {
	prefix := strings.TrimRight(cfg.KeyPrefix, "/")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	size := cfg.SeenCacheSize
	if size == 0 {
		size = defaultSeenCacheSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EtcdStore{
		client: cli,
		prefix: prefix,
		seen:   newSeenSet(size),
		clock:  clock,
		logger: logger.With("component", "metadata"),
	}
}

// Close releases the etcd client.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}

func (s *EtcdStore) seriesKey(id uint64) string {
	return fmt.Sprintf("%s/series/%016x", s.prefix, id)
}

func (s *EtcdStore) WriteSeries(ctx context.Context, series []model.Series) error {
	now := s.clock.Now().UnixMilli()
	created := 0
	for _, ser := range series {
		id := ser.ID()
		if s.seen.contains(id) {
			continue
		}
		payload, err := json.Marshal(newRecord(ser, now))
		if err != nil {
			return err
		}
		key := s.seriesKey(id)
		opCtx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
		resp, err := s.client.Txn(opCtx).
			If(clientv3.Compare(clientv3.Version(key), "=", 0)).
			Then(clientv3.OpPut(key, string(payload))).
			Commit()
		cancel()
		if err != nil {
			return fmt.Errorf("store series %s: %w", ser, err)
		}
		if resp.Succeeded {
			created++
		}
		s.seen.add(id)
	}
	if created > 0 {
		s.logger.Debug("stored new series", "count", created)
	}
	return nil
}

func (s *EtcdStore) Series(ctx context.Context) ([]SeriesRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()
	resp, err := s.client.Get(ctx, s.prefix+"/series/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]SeriesRecord, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var rec SeriesRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", kv.Key, err)
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}
