package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/driftgate/driftgate/internal/event"
)

// Message is the rendered notification text handed to an adapter. Adapters
// may use the event for structured payloads; Text is always populated.
type Message struct {
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
	Severity string `json:"severity,omitempty"`
}

// Notifier delivers notifications to one configured destination.
type Notifier interface {
	// Send delivers msg for ev. It must honor ctx cancellation.
	Send(ctx context.Context, msg Message, ev *event.NotificationEvent) error

	// ConfigSchema describes the settings this adapter understands, keyed
	// by setting name with a short human description.
	ConfigSchema() map[string]string
}

// Config declares one channel instance in the server configuration.
type Config struct {
	ID       string            `yaml:"id"`
	Type     string            `yaml:"type"`
	Settings map[string]string `yaml:"settings"`
}

// Factory builds a Notifier from its settings.
type Factory func(settings map[string]string) (Notifier, error)

// Registry maps channel IDs to live Notifier instances and channel types to
// factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	channels  map[string]Notifier
}

// NewRegistry returns a registry with the built-in adapter types
// (webhook, log) registered.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		channels:  make(map[string]Notifier),
	}
	r.RegisterType("webhook", NewWebhook)
	r.RegisterType("log", NewLog)
	return r
}

// RegisterType adds a channel type. Later registrations replace earlier ones.
func (r *Registry) RegisterType(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Configure instantiates all declared channels, replacing the current set.
func (r *Registry) Configure(cfgs []Config) error {
	built := make(map[string]Notifier, len(cfgs))
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range cfgs {
		if c.ID == "" {
			return fmt.Errorf("channel with no id")
		}
		if _, dup := built[c.ID]; dup {
			return fmt.Errorf("duplicate channel id %q", c.ID)
		}
		f, ok := r.factories[c.Type]
		if !ok {
			return fmt.Errorf("channel %q: unknown type %q", c.ID, c.Type)
		}
		n, err := f(c.Settings)
		if err != nil {
			return fmt.Errorf("channel %q: %w", c.ID, err)
		}
		built[c.ID] = n
	}
	r.channels = built
	return nil
}

// Get returns the Notifier registered under id.
func (r *Registry) Get(id string) (Notifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.channels[id]
	return n, ok
}

// IDs returns the configured channel IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Types returns the registered adapter type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
