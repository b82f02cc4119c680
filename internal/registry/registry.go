/*
authgate - composable email authentication gateway
Copyright © 2026 authgate contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package registry is the compile-time handler registry: each handler
// package self-registers a gateway.Factory under its name from an
// init() function, instead of the deployment being scanned for
// installed modules on disk.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/authgate/authgate/internal/gateway"
)

var (
	mu       sync.RWMutex
	handlers = make(map[string]gateway.Factory)
)

// Register adds factory under name. Called from each handler
// package's init(); a duplicate name is a programmer error and panics
// at import time rather than producing a silently shadowed handler.
func Register(name string, factory gateway.Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := handlers[name]; ok {
		panic("registry: handler already registered: " + name)
	}
	handlers[name] = factory
}

// Get returns the factory registered under name, or nil.
func Get(name string) gateway.Factory {
	mu.RLock()
	defer mu.RUnlock()
	return handlers[name]
}

// Names returns every registered handler name, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(handlers))
	for name := range handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build instantiates one Handler per name in loadHandlers, in order.
// An unknown name is fatal at worker startup per spec.md §4.A.
func Build(loadHandlers []string) ([]gateway.Handler, error) {
	out := make([]gateway.Handler, 0, len(loadHandlers))
	for _, name := range loadHandlers {
		factory := Get(name)
		if factory == nil {
			return nil, fmt.Errorf("registry: unknown handler %q (available: %v)", name, Names())
		}
		h, err := factory()
		if err != nil {
			return nil, fmt.Errorf("registry: building handler %q: %w", name, err)
		}
		out = append(out, h)
	}
	return out, nil
}
