package host

import (
	"context"
	"strings"
	"sync"
)

// Unit is one running instance of a deployed unit. Start must return once
// the instance is up; a non-nil error fails the whole deployment. ctx only
// covers Start and is cancelled once the deployment settled.
type Unit interface {
	Start(ctx context.Context, uc *Context) error
}

// Stopper is implemented by units that hold resources after Start.
type Stopper interface {
	Stop(ctx context.Context) error
}

// PIDReporter is implemented by units backed by an OS process.
type PIDReporter interface {
	PID() int
}

// Factory builds a fresh Unit for every instance. ref is the part of the
// unit name after the scheme prefix, or the full name for exact matches.
type Factory func(ref string) (Unit, error)

// Registry maps unit names to factories. Names either match exactly or
// through a scheme prefix such as "js:" or "exec:".
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]Factory
	prefixes map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		exact:    map[string]Factory{},
		prefixes: map[string]Factory{},
	}
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[name] = f
}

// RegisterPrefix installs f for every name of the form "<scheme>:<ref>".
func (r *Registry) RegisterPrefix(scheme string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[strings.TrimSuffix(scheme, ":")] = f
}

// Lookup returns the factory for name and the reference to pass to it.
// Exact registrations win over schemes.
func (r *Registry) Lookup(name string) (Factory, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.exact[name]; ok {
		return f, name, true
	}
	scheme, ref, ok := strings.Cut(name, ":")
	if !ok || ref == "" {
		return nil, "", false
	}
	f, ok := r.prefixes[scheme]
	if !ok {
		return nil, "", false
	}
	return f, ref, true
}
