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

package schema

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/novatechflow/tsingest/pkg/model"
)

const JSONName = "json"

// JSON decodes metric objects of the form
//
//	{"version":"1.0.0","key":"cpu","host":"web-1","time":1700000000000,"attributes":{"dc":"eu"},"value":0.5}
//
// The host, when set, becomes the "host" tag.
type JSON struct{}

type jsonMetric struct {
	Version    string            `json:"version"`
	Key        string            `json:"key"`
	Host       string            `json:"host"`
	Time       int64             `json:"time"`
	Attributes map[string]string `json:"attributes"`
	Value      *float64          `json:"value"`
}

func (JSON) Decode(data []byte) (model.WriteEntry, error) {
	var m jsonMetric
	if err := json.Unmarshal(data, &m); err != nil {
		return model.WriteEntry{}, invalid("json: %v", err)
	}
	if m.Version != "" && !strings.HasPrefix(m.Version, "1.") && m.Version != "1" {
		return model.WriteEntry{}, invalid("json: unsupported version %q", m.Version)
	}
	if m.Key == "" {
		return model.WriteEntry{}, invalid("json: key is required")
	}
	if m.Time <= 0 {
		return model.WriteEntry{}, invalid("json: time must be positive")
	}
	if m.Value == nil {
		return model.WriteEntry{}, invalid("json: value is required")
	}

	tags := make(map[string]string, len(m.Attributes)+1)
	for k, v := range m.Attributes {
		tags[k] = v
	}
	if m.Host != "" {
		tags["host"] = m.Host
	}
	return model.WriteEntry{
		Series:    model.Series{Key: m.Key, Tags: tags},
		Timestamp: time.UnixMilli(m.Time).UTC(),
		Value:     *m.Value,
	}, nil
}
