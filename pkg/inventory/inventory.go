// Package inventory manages the host inventory dispatch adapters select
// targets from.
//
// Hosts are loaded from a YAML file (hosts.yaml) and selected with the
// match-expression grammar used by stage documents: "*" or "all" selects
// every host, "key=value" selects by label equality, anything else is a
// glob on the host ID, and " or "-joined alternatives union their matches.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Host is one entry in the inventory.
type Host struct {
	// ID is the unique host identifier targets are reported under.
	ID string `yaml:"id" json:"id"`

	// Address is the network address used by remote transports. Defaults
	// to the ID when empty.
	Address string `yaml:"address" json:"address"`

	// Port is the SSH port; zero falls back to the fleet default.
	Port int `yaml:"port" json:"port,omitempty"`

	// User is the login user; empty falls back to the fleet default.
	User string `yaml:"user" json:"user,omitempty"`

	// KeyPath is a host-specific private key path.
	KeyPath string `yaml:"key_path" json:"key_path,omitempty"`

	// Labels are key-value pairs the selector grammar matches against.
	Labels map[string]string `yaml:"labels" json:"labels,omitempty"`
}

// Registry is a thread-safe host inventory.
type Registry struct {
	mu    sync.RWMutex
	hosts map[string]*Host
}

// inventoryFile is the YAML shape of hosts.yaml.
type inventoryFile struct {
	Hosts []*Host `yaml:"hosts"`
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{hosts: make(map[string]*Host)}
}

// LoadFile reads an inventory from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory %s: %w", path, err)
	}

	var file inventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}

	reg := NewRegistry()
	for _, h := range file.Hosts {
		if err := reg.Add(h); err != nil {
			return nil, fmt.Errorf("invalid inventory %s: %w", path, err)
		}
	}
	return reg, nil
}

// Add registers a host. Host IDs must be unique.
func (r *Registry) Add(h *Host) error {
	if h == nil || h.ID == "" {
		return fmt.Errorf("host requires an id")
	}
	if h.Address == "" {
		h.Address = h.ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hosts[h.ID]; ok {
		return fmt.Errorf("duplicate host id %q", h.ID)
	}
	r.hosts[h.ID] = h
	return nil
}

// Get returns the host with the given ID.
func (r *Registry) Get(id string) (*Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[id]
	return h, ok
}

// IDs returns all host IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.hosts))
	for id := range r.hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered hosts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hosts)
}

// Select evaluates a match expression and returns the matching hosts in
// sorted ID order. Alternatives joined with " or " union their matches. An
// expression that matches nothing yields an empty result, not an error;
// only a syntactically invalid glob is an error.
func (r *Registry) Select(expr string) ([]*Host, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make(map[string]*Host)
	for _, alt := range strings.Split(expr, " or ") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		if err := r.selectOne(alt, matched); err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, len(matched))
	for id := range matched {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	hosts := make([]*Host, len(ids))
	for i, id := range ids {
		hosts[i] = matched[id]
	}
	return hosts, nil
}

// SelectIDs evaluates a match expression and returns matching host IDs.
func (r *Registry) SelectIDs(expr string) ([]string, error) {
	hosts, err := r.Select(expr)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(hosts))
	for i, h := range hosts {
		ids[i] = h.ID
	}
	return ids, nil
}

// selectOne applies a single alternative to the matched set.
func (r *Registry) selectOne(alt string, matched map[string]*Host) error {
	if alt == "*" || alt == "all" {
		for id, h := range r.hosts {
			matched[id] = h
		}
		return nil
	}

	if key, value, ok := strings.Cut(alt, "="); ok {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		for id, h := range r.hosts {
			if h.Labels[key] == value {
				matched[id] = h
			}
		}
		return nil
	}

	for id, h := range r.hosts {
		ok, err := filepath.Match(alt, id)
		if err != nil {
			return fmt.Errorf("invalid selector %q: %w", alt, err)
		}
		if ok {
			matched[id] = h
		}
	}
	return nil
}
