// Package scenario defines the hook interfaces concrete scenarios
// implement and the registry the selection layer draws from. The
// lifecycle invokes hooks through these interfaces only; scenario code in
// turn drives its phase chain through the coordinator primitives it
// receives in its Env.
package scenario

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/berrycraft/mirrorpeer/internal/coordinator"
	"github.com/berrycraft/mirrorpeer/internal/logging"
	"github.com/berrycraft/mirrorpeer/internal/sharedrng"
)

// AgentState is the position payload exchanged between peers. Its shape
// matches the recorded action stream.
type AgentState struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
}

// Env carries everything a scenario needs for one episode. It is built
// fresh per episode and passed by reference through every hook; scenarios
// mutate SelfState and PeerState as the episode progresses.
type Env struct {
	// Episode is the session-scoped episode number.
	Episode int
	// Self and Peer are the two stable peer names. Their lexicographic
	// order is the deterministic tie-break for role decisions.
	Self string
	Peer string
	// Coord is the peer link for this process.
	Coord *coordinator.Coordinator
	// RNG is the shared deterministic source. Every code path that can
	// run on both peers within a phase must draw from it the same number
	// of times, in the same order, regardless of role.
	RNG *sharedrng.Source
	// Log is scoped to the current episode.
	Log *logging.Logger

	// SelfState and PeerState are the agents' last known positions.
	SelfState AgentState
	PeerState AgentState
}

// Scenario is the required hook every scenario type implements. Run
// drives the scenario's internal phase chain; the lifecycle imposes no
// fixed phase count.
type Scenario interface {
	Name() string
	Run(ctx context.Context, env *Env) error
}

// Setupper is the optional pre-phase hook. It may reposition the agents
// by mutating env's states; failures transition the episode straight to
// the abort path.
type Setupper interface {
	Setup(ctx context.Context, env *Env) error
}

// Teardowner is the optional cleanup hook, run exactly once after the
// stop handshake regardless of success or abort.
type Teardowner interface {
	Teardown(ctx context.Context, env *Env) error
}

// Info describes a scenario type for the selection layer.
type Info struct {
	// TypicalDuration is the expected wall-clock length of one episode.
	// Weighted selection samples shorter scenarios more often; a type
	// without a duration cannot be weighted and selection fails loudly.
	TypicalDuration time.Duration
	// FlatWorldOnly marks types that cannot run on non-flat terrain.
	FlatWorldOnly bool
}

// Factory builds a fresh scenario instance for one episode.
type Factory func() Scenario

type entry struct {
	info    Info
	factory Factory
}

// Registry maps scenario type names to factories and selection metadata.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a scenario type. Duplicate names are rejected.
func (r *Registry) Register(name string, info Info, factory Factory) error {
	if name == "" {
		return fmt.Errorf("scenario name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("scenario %q has no factory", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("scenario %q already registered", name)
	}
	r.entries[name] = entry{info: info, factory: factory}
	return nil
}

// New builds a fresh instance of the named scenario type.
func (r *Registry) New(name string) (Scenario, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown scenario type %q", name)
	}
	return e.factory(), nil
}

// Info returns the selection metadata for a scenario type.
func (r *Registry) Info(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.info, ok
}

// Names returns all registered type names in alphabetical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a Registry with the stock scenario types registered.
func Builtin() *Registry {
	r := NewRegistry()
	// Registration of stock types cannot fail: names are unique literals.
	_ = r.Register("chase", Info{TypicalDuration: 90 * time.Second}, func() Scenario { return &Chase{} })
	_ = r.Register("straightline", Info{TypicalDuration: 40 * time.Second, FlatWorldOnly: true}, func() Scenario { return &StraightLine{} })
	return r
}
