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
	"errors"
	"fmt"
	"time"

	"github.com/novatechflow/tsingest/pkg/batcher"
)

const (
	DefaultThreadCount     = 2
	DefaultShutdownTimeout = 10 * time.Second
)

// Config describes what a consumer reads and how it batches.
type Config struct {
	Topics []string
	// ThreadCount is the number of partition workers per topic.
	ThreadCount int
	// ConnectorConfig is handed to the connector factory verbatim.
	ConnectorConfig map[string]string
	// Schema names the decoder in the schema registry.
	Schema string
	Batch  batcher.Config
	// ShutdownTimeout bounds how long Stop waits for the workers.
	ShutdownTimeout time.Duration
	// DiscardOnStop drops the partially filled buffer when stopping. By
	// default Stop forwards it once the workers have exited.
	DiscardOnStop bool
}

// DefaultConfig returns a config with every tunable at its default.
func DefaultConfig() Config {
	return Config{
		ThreadCount:     DefaultThreadCount,
		Batch:           batcher.Config{MaxSize: batcher.DefaultMaxSize, MaxAge: batcher.DefaultMaxAge},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.ThreadCount == 0 {
		c.ThreadCount = DefaultThreadCount
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// Validate reports every problem with the config at once.
func (c Config) Validate() error {
	var errs []error
	if len(c.Topics) == 0 {
		errs = append(errs, errors.New("consumer: at least one topic must be set"))
	}
	seen := make(map[string]struct{}, len(c.Topics))
	for _, topic := range c.Topics {
		if topic == "" {
			errs = append(errs, errors.New("consumer: topic names must not be empty"))
			continue
		}
		if _, dup := seen[topic]; dup {
			errs = append(errs, fmt.Errorf("consumer: duplicate topic %q", topic))
		}
		seen[topic] = struct{}{}
	}
	if c.ThreadCount < 1 {
		errs = append(errs, fmt.Errorf("consumer: thread count must be >= 1, got %d", c.ThreadCount))
	}
	if c.Schema == "" {
		errs = append(errs, errors.New("consumer: schema must be set"))
	}
	return errors.Join(errs...)
}
