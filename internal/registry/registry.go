// Package registry keeps the peripherals found by a scan: unique by address,
// in first-seen order.
package registry

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Options configures which sightings are admitted
type Options struct {
	// IncludeUnnamed admits peripherals that advertise no usable name
	IncludeUnnamed bool
	// AllowList restricts admission to these addresses when non-empty
	AllowList []string
	// BlockList addresses are never admitted
	BlockList []string
	// ServiceUUIDs requires at least one of these advertised services when non-empty
	ServiceUUIDs []string
}

// Registry is an insertion-ordered set of peripherals keyed by address.
// Entries are never removed individually, only bulk-cleared.
type Registry struct {
	opts   Options
	logger *logrus.Logger

	mu      sync.RWMutex
	devices *orderedmap.OrderedMap[string, device.Peripheral]
}

// New creates an empty registry
func New(opts Options, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	opts.ServiceUUIDs = device.NormalizeUUIDs(opts.ServiceUUIDs)
	return &Registry{
		opts:    opts,
		logger:  logger,
		devices: orderedmap.New[string, device.Peripheral](),
	}
}

// Clear removes all entries
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = orderedmap.New[string, device.Peripheral]()
}

// Offer records a sighting. A new address is appended if it passes the
// filters; a known address keeps its position and has its metadata refreshed.
// A non-empty name is never replaced by an empty one. Offer reports whether
// the address was newly added.
func (r *Registry) Offer(p device.Peripheral) bool {
	key := addressKey(p.Address)
	if key == "" {
		return false
	}
	p.Name = strings.TrimSpace(p.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if known, ok := r.devices.Get(key); ok {
		if p.Name == "" {
			p.Name = known.Name
		}
		if len(p.Services) == 0 {
			p.Services = known.Services
		}
		p.Address = known.Address
		r.devices.Set(key, p)
		return false
	}

	if !r.admits(p) {
		return false
	}
	r.devices.Set(key, p)
	r.logger.WithFields(logrus.Fields{
		"address": p.Address,
		"name":    p.Name,
		"rssi":    p.RSSI,
	}).Debug("Registered peripheral")
	return true
}

// admits applies name, allow/block and service filters; caller holds mu
func (r *Registry) admits(p device.Peripheral) bool {
	if !r.opts.IncludeUnnamed && !p.HasName() {
		return false
	}

	key := addressKey(p.Address)
	for _, blocked := range r.opts.BlockList {
		if addressKey(blocked) == key {
			return false
		}
	}

	if len(r.opts.AllowList) > 0 {
		allowed := false
		for _, a := range r.opts.AllowList {
			if addressKey(a) == key {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(r.opts.ServiceUUIDs) > 0 {
		for _, required := range r.opts.ServiceUUIDs {
			for _, advertised := range p.Services {
				if device.NormalizeUUID(advertised) == required {
					return true
				}
			}
		}
		return false
	}

	return true
}

// Snapshot returns the entries in first-seen order
func (r *Registry) Snapshot() []device.Peripheral {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]device.Peripheral, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Get looks up an entry by address (case-insensitive)
func (r *Registry) Get(address string) (device.Peripheral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices.Get(addressKey(address))
}

// Len returns the number of entries
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices.Len()
}

// Options returns the admission options
func (r *Registry) Options() Options {
	return r.opts
}

func addressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
