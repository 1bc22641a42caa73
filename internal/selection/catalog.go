// Package selection chooses which scenario type runs next: weighted
// random sampling for data collection, or deterministic alphabetical
// cycling for smoke-test runs that need full coverage over a short
// session. Both peers drive selection from the shared RNG, so they pick
// the same type for every episode without exchanging it.
package selection

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/berrycraft/mirrorpeer/internal/errors"
	"github.com/berrycraft/mirrorpeer/internal/scenario"
)

// Catalog holds the per-type selection metadata: typical durations and
// terrain compatibility. It starts from the registry's registered Info
// and can be overridden from a YAML file, so operators can retune
// sampling without rebuilding.
type Catalog struct {
	durations map[string]time.Duration
	flatOnly  map[string]bool
	names     []string
}

// NewCatalog builds a Catalog from a scenario registry.
func NewCatalog(reg *scenario.Registry) *Catalog {
	c := &Catalog{
		durations: make(map[string]time.Duration),
		flatOnly:  make(map[string]bool),
		names:     reg.Names(),
	}
	for _, name := range c.names {
		info, _ := reg.Info(name)
		if info.TypicalDuration > 0 {
			c.durations[name] = info.TypicalDuration
		}
		c.flatOnly[name] = info.FlatWorldOnly
	}
	return c
}

// LoadOverrides applies typical-duration overrides from a YAML file of
// the form:
//
//	chase: 1m30s
//	straightline: 40s
//
// Unknown names are rejected so typos surface instead of silently
// registering a phantom type.
func (c *Catalog) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read duration overrides: %w", err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse duration overrides: %w", err)
	}

	for name, val := range raw {
		if _, known := c.flatOnly[name]; !known {
			return fmt.Errorf("duration override for unregistered scenario type %q", name)
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("duration override for %q: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("duration override for %q must be positive", name)
		}
		c.durations[name] = d
	}
	return nil
}

// Duration returns the typical duration for a type, if one is known.
func (c *Catalog) Duration(name string) (time.Duration, bool) {
	d, ok := c.durations[name]
	return d, ok
}

// Names returns all cataloged type names in alphabetical order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Eligible filters the catalog down to the types that may run: those in
// the enabled set (empty set means all) and, on non-flat terrain, those
// not marked flat-world-only. The result is alphabetical. An empty
// result is an error; a session with nothing to run is misconfigured.
func (c *Catalog) Eligible(enabled []string, flatWorld bool) ([]string, error) {
	allow := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		if _, known := c.flatOnly[name]; !known {
			return nil, fmt.Errorf("enabled scenario type %q is not registered", name)
		}
		allow[name] = true
	}

	var out []string
	for _, name := range c.names {
		if len(allow) > 0 && !allow[name] {
			continue
		}
		if !flatWorld && c.flatOnly[name] {
			continue
		}
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, errors.ErrNoEligibleScenarios
	}
	sort.Strings(out)
	return out, nil
}
