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
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryObjectClient is an in-memory ObjectClient for development and tests.
type MemoryObjectClient struct {
	mu          sync.Mutex
	objects     map[string]memoryObject
	bucketReady bool
	putErr      error
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryObjectClient initializes an empty store.
func NewMemoryObjectClient() *MemoryObjectClient {
	return &MemoryObjectClient{objects: make(map[string]memoryObject)}
}

// FailPuts makes every PutObject return err until called with nil.
func (m *MemoryObjectClient) FailPuts(err error) {
	m.mu.Lock()
	m.putErr = err
	m.mu.Unlock()
}

// BucketReady reports whether EnsureBucket was called.
func (m *MemoryObjectClient) BucketReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bucketReady
}

// ContentType returns the content type stored with key.
func (m *MemoryObjectClient) ContentType(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key].contentType
}

func (m *MemoryObjectClient) EnsureBucket(context.Context) error {
	m.mu.Lock()
	m.bucketReady = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryObjectClient) PutObject(_ context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return fmt.Errorf("put object %s: %w", key, m.putErr)
	}
	m.objects[key] = memoryObject{data: append([]byte(nil), body...), contentType: contentType}
	return nil
}

func (m *MemoryObjectClient) GetObject(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *MemoryObjectClient) ListObjects(_ context.Context, prefix string) ([]Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Object, 0)
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, Object{Key: key, Size: int64(len(obj.data))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
