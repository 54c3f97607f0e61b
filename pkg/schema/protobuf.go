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
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/novatechflow/tsingest/pkg/model"
)

const ProtobufName = "protobuf"

// Field numbers of the metric message:
//
//	message Metric {
//	  string key = 1;
//	  map<string, string> tags = 2;
//	  int64 timestamp_ms = 3;
//	  double value = 4;
//	}
const (
	fieldKey       protowire.Number = 1
	fieldTags      protowire.Number = 2
	fieldTimestamp protowire.Number = 3
	fieldValue     protowire.Number = 4

	fieldMapKey   protowire.Number = 1
	fieldMapValue protowire.Number = 2
)

// Protobuf decodes the Metric wire message. Unknown fields are skipped.
type Protobuf struct{}

func (Protobuf) Decode(data []byte) (model.WriteEntry, error) {
	var (
		key      string
		tags     = make(map[string]string)
		ts       int64
		value    float64
		hasValue bool
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return model.WriteEntry{}, invalid("protobuf: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return model.WriteEntry{}, invalid("protobuf key: %v", protowire.ParseError(n))
			}
			key = v
			data = data[n:]
		case num == fieldTags && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return model.WriteEntry{}, invalid("protobuf tags: %v", protowire.ParseError(n))
			}
			k, val, err := decodeMapEntry(v)
			if err != nil {
				return model.WriteEntry{}, err
			}
			tags[k] = val
			data = data[n:]
		case num == fieldTimestamp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return model.WriteEntry{}, invalid("protobuf timestamp: %v", protowire.ParseError(n))
			}
			ts = int64(v)
			data = data[n:]
		case num == fieldValue && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return model.WriteEntry{}, invalid("protobuf value: %v", protowire.ParseError(n))
			}
			value = math.Float64frombits(v)
			hasValue = true
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return model.WriteEntry{}, invalid("protobuf field %d: %v", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if key == "" {
		return model.WriteEntry{}, invalid("protobuf: key is required")
	}
	if ts <= 0 {
		return model.WriteEntry{}, invalid("protobuf: timestamp_ms must be positive")
	}
	if !hasValue {
		return model.WriteEntry{}, invalid("protobuf: value is required")
	}
	return model.WriteEntry{
		Series:    model.Series{Key: key, Tags: tags},
		Timestamp: time.UnixMilli(ts).UTC(),
		Value:     value,
	}, nil
}

func decodeMapEntry(b []byte) (string, string, error) {
	var key, value string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", invalid("protobuf tag entry: %v", protowire.ParseError(n))
		}
		b = b[n:]
		if typ == protowire.BytesType && (num == fieldMapKey || num == fieldMapValue) {
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return "", "", invalid("protobuf tag entry: %v", protowire.ParseError(n))
			}
			if num == fieldMapKey {
				key = v
			} else {
				value = v
			}
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return "", "", invalid("protobuf tag entry: %v", protowire.ParseError(n))
		}
		b = b[n:]
	}
	return key, value, nil
}
