package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/timmy/lookbook/internal/config"
	"github.com/timmy/lookbook/internal/logger"
	"github.com/timmy/lookbook/internal/poller"
)

// Registry holds the configured transports by name.
type Registry struct {
	mu          sync.RWMutex
	transports  map[string]poller.Transport
	defaultName string
}

// NewRegistry creates an empty registry.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		transports:  make(map[string]poller.Transport),
		defaultName: defaultName,
	}
}

// Build creates a transport for every configured provider. Providers that cannot
// be created (a Gemini provider without key) are skipped with a warning so one bad
// entry does not take the service down.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Registry, error) {
	r := NewRegistry(cfg.DefaultProvider)
	for _, pc := range cfg.Providers {
		var (
			t   poller.Transport
			err error
		)
		switch pc.Type {
		case config.ProviderTypeREST:
			t = NewRESTClient(pc)
		case config.ProviderTypeGemini:
			t, err = NewGeminiClient(ctx, pc)
		default:
			err = fmt.Errorf("unknown provider type %q", pc.Type)
		}
		if err != nil {
			log.WithError(err).WithField(logger.FieldProvider, pc.Name).Warn("Provider disabled")
			continue
		}
		r.Register(t)
		log.WithFields(logger.Fields{
			logger.FieldProvider: pc.Name,
			"type":               pc.Type,
		}).Info("Provider registered")
	}

	if r.Len() == 0 {
		return nil, fmt.Errorf("no usable providers configured")
	}
	if _, ok := r.Get(r.defaultName); !ok {
		names := r.Names()
		log.WithField(logger.FieldProvider, names[0]).Warnf("Default provider %q unavailable, falling back", r.defaultName)
		r.defaultName = names[0]
	}
	return r, nil
}

// Register adds t under its name, replacing any previous transport with that name.
func (r *Registry) Register(t poller.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Name()] = t
	if r.defaultName == "" {
		r.defaultName = t.Name()
	}
}

// Get returns the named transport.
func (r *Registry) Get(name string) (poller.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	return t, ok
}

// Resolve returns the named transport, or the default one for an empty name.
func (r *Registry) Resolve(name string) (poller.Transport, error) {
	if name == "" {
		name = r.Default()
	}
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return t, nil
}

// Default returns the default provider name.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// Names lists the registered providers in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered transports.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.transports)
}
