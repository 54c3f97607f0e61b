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
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/novatechflow/tsingest/pkg/model"
)

var (
	// ErrUnknownSchema indicates no factory is registered under the requested name.
	ErrUnknownSchema = errors.New("unknown schema")
	// ErrInvalidRecord wraps every decode failure.
	ErrInvalidRecord = errors.New("invalid record")
)

// Schema decodes one raw record into a write entry. Implementations must be
// safe for concurrent use by every partition worker.
type Schema interface {
	Decode(data []byte) (model.WriteEntry, error)
}

// Factory builds a Schema instance.
type Factory func() Schema

// Registry maps schema names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default holds the built-in schemas.
var Default = func() *Registry {
	r := NewRegistry()
	_ = r.Register(JSONName, func() Schema { return JSON{} })
	_ = r.Register(ProtobufName, func() Schema { return Protobuf{} })
	return r
}()

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return errors.New("schema name and factory required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("schema %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Lookup builds the schema registered under name.
func (r *Registry) Lookup(name string) (Schema, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, name)
	}
	return factory(), nil
}

// Names lists registered schema names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}
