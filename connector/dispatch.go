package connector

import (
	"fmt"
	"sync"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// Dispatcher resolves a connector slug to its Client, with support for
// slug aliases (e.g. "gpt" -> "openai") so older workflow definitions keep
// working after a connector is renamed.
type Dispatcher struct {
	mu      sync.RWMutex
	clients map[string]Client
	aliases map[string]string
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
	}
}

// Register adds or replaces the client for its own Slug().
func (d *Dispatcher) Register(c Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[c.Slug()] = c
}

// Alias routes requests for alias to target's registered client.
func (d *Dispatcher) Alias(alias, target string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aliases[alias] = target
}

// Resolve returns the Client for slug, following one level of alias
// indirection.
func (d *Dispatcher) Resolve(slug string) (Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if target, ok := d.aliases[slug]; ok {
		slug = target
	}
	c, ok := d.clients[slug]
	if !ok {
		return nil, &domain.Err{Kind: domain.ErrNotFound, Message: fmt.Sprintf("no connector registered for slug %q", slug)}
	}
	return c, nil
}

// RequireFields returns a bad_input *domain.Err naming every field in
// required that is absent from input, or nil if all are present. Every
// connector's Invoke calls this before doing any I/O.
func RequireFields(input map[string]any, required []string) error {
	var missing []string
	for _, f := range required {
		if _, ok := input[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return domain.ErrMissingFields(missing)
	}
	return nil
}
