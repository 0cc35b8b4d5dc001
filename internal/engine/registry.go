package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownCommand is returned by Registry.New for unregistered names.
var ErrUnknownCommand = errors.New("engine: unknown command")

// CommandFactory builds a command from string arguments.
type CommandFactory func(args []string) (Command, error)

// Registry maps command names to factories. Names are registered at
// startup; lookups are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]CommandFactory
}

// NewRegistry returns a registry holding the built-in "query" command,
// which joins its arguments into one literal query term.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]CommandFactory)}
	r.MustRegister("query", func(args []string) (Command, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("query: missing query text")
		}
		return NewQuery(strings.Join(args, " "))
	})
	return r
}

// Register adds a factory. Registering a name twice is an error.
func (r *Registry) Register(name string, f CommandFactory) error {
	if name == "" || f == nil {
		return fmt.Errorf("engine: invalid registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("engine: command %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics on error. Use it from init code only.
func (r *Registry) MustRegister(name string, f CommandFactory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// New builds the named command.
func (r *Registry) New(name string, args []string) (Command, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return f(args)
}

// Names returns the registered names in sorted order.
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
