// Copyright 2025 NorthPeak Malaysia Sdn Bhd
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

// Package registry provides a small generic name-to-item registry for
// pluggable backends selected at wiring time, such as model routers and
// notifier transports.
package registry

import (
	"sort"
	"sync"

	"github.com/northpeakmalaysia/swarmai/pkg/swarmerrors"
)

// Registry maps names to items of one backend kind. Safe for concurrent
// use.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

// Register adds an item under name. Names are unique; registering a
// taken name is an error.
func (r *Registry[T]) Register(name string, item T) error {
	if name == "" {
		return swarmerrors.New(swarmerrors.KindInvalidInput, "registry", "register", "name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[name]; exists {
		return swarmerrors.New(swarmerrors.KindInvalidInput, "registry", "register", "name already registered: "+name)
	}
	r.items[name] = item
	return nil
}

// Get returns the item registered under name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[name]
	return item, ok
}

// Lookup returns the item under name or a not-found error naming the
// available choices.
func (r *Registry[T]) Lookup(name string) (T, error) {
	item, ok := r.Get(name)
	if !ok {
		var zero T
		return zero, swarmerrors.New(swarmerrors.KindNotFound, "registry", "lookup",
			"unknown name "+name+", registered: "+joinNames(r.Names()))
	}
	return item, nil
}

// Names returns the registered names, sorted.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the registered items in name order.
func (r *Registry[T]) List() []T {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]T, 0, len(names))
	for _, name := range names {
		items = append(items, r.items[name])
	}
	return items
}

// Remove deletes the item under name.
func (r *Registry[T]) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[name]; !exists {
		return swarmerrors.New(swarmerrors.KindNotFound, "registry", "remove", "name not registered: "+name)
	}
	delete(r.items, name)
	return nil
}

// Count returns the number of registered items.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func joinNames(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += ", " + n
	}
	return out
}
