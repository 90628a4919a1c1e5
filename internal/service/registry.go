package service

import (
	"fmt"
	"strings"
	"sync"
)

// Key kinds inside a service key such as "github.A.push".
const (
	KindAction   = "A"
	KindReaction = "R"
)

// SplitKey parses "<service>.<A|R>.<name>" into its parts.
func SplitKey(key string) (svc, kind, name string, err error) {
	parts := strings.SplitN(key, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("invalid service key %q: must be <service>.<A|R>.<name>", key)
	}
	if parts[1] != KindAction && parts[1] != KindReaction {
		return "", "", "", fmt.Errorf("invalid service key %q: kind must be A or R", key)
	}
	return parts[0], parts[1], parts[2], nil
}

// ServiceOf returns the service part of a key, or "" for malformed keys.
func ServiceOf(key string) string {
	svc, _, _, err := SplitKey(key)
	if err != nil {
		return ""
	}
	return svc
}

// Registry maps service, action, and reaction names to their adapters.
// It is populated at startup and read-only afterwards; lookups for unknown
// keys return ok=false rather than failing.
type Registry struct {
	mu        sync.RWMutex
	services  map[string]Controller
	actions   map[string]ActionHandler
	reactions map[string]ReactionHandler
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		services:  make(map[string]Controller),
		actions:   make(map[string]ActionHandler),
		reactions: make(map[string]ReactionHandler),
	}
}

// RegisterService registers a service controller under its name.
func (r *Registry) RegisterService(name string, c Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}
	r.services[name] = c
	return nil
}

// RegisterAction registers an action handler under a full key like
// "github.A.push". The service part must already be registered.
func (r *Registry) RegisterAction(key string, h ActionHandler) error {
	svc, kind, _, err := SplitKey(key)
	if err != nil {
		return err
	}
	if kind != KindAction {
		return fmt.Errorf("action key %q must use kind A", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[svc]; !exists {
		return fmt.Errorf("action %q references unregistered service %q", key, svc)
	}
	if _, exists := r.actions[key]; exists {
		return fmt.Errorf("action %q already registered", key)
	}
	r.actions[key] = h
	return nil
}

// RegisterReaction registers a reaction handler under a full key like
// "github.R.star". The service part must already be registered.
func (r *Registry) RegisterReaction(key string, h ReactionHandler) error {
	svc, kind, _, err := SplitKey(key)
	if err != nil {
		return err
	}
	if kind != KindReaction {
		return fmt.Errorf("reaction key %q must use kind R", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[svc]; !exists {
		return fmt.Errorf("reaction %q references unregistered service %q", key, svc)
	}
	if _, exists := r.reactions[key]; exists {
		return fmt.Errorf("reaction %q already registered", key)
	}
	r.reactions[key] = h
	return nil
}

// Service returns the controller registered under name.
func (r *Registry) Service(name string) (Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.services[name]
	return c, ok
}

// Action returns the handler registered under a full action key.
func (r *Registry) Action(key string) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.actions[key]
	return h, ok
}

// Reaction returns the handler registered under a full reaction key.
func (r *Registry) Reaction(key string) (ReactionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.reactions[key]
	return h, ok
}

// Services returns the names of all registered services.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}
