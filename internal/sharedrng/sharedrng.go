// Package sharedrng implements the shared deterministic random sequence
// both peers consume in lockstep during an episode.
//
// Correctness of role-dependent branching rests on one invariant: for a
// given episode, both peers' generators are seeded identically and drawn
// from the exact same number of times, in the exact same order. Any code
// path that can run on both peers within a phase must draw symmetrically —
// an early return that skips a draw on one peer silently desynchronizes
// the two streams for the rest of the episode. The Draws counter exists so
// tests can assert this.
//
// The generator is splitmix64. It is implemented here rather than taken
// from math/rand because the sequence must be bit-for-bit identical across
// peers regardless of platform or Go release, and the two processes in a
// session are not guaranteed to be built from the same toolchain.
package sharedrng

import "sort"

// A Source is a deterministic generator owned by exactly one peer.
// It is accessed only from the episode's own goroutine and is not safe
// for concurrent use, matching the single thread-of-control-per-episode
// model.
type Source struct {
	state uint64
	draws uint64
}

// New creates a Source seeded with the given value. Two Sources created
// with equal seeds produce identical sequences.
func New(seed uint64) *Source {
	return &Source{state: seed}
}

// EpisodeSeed derives the per-episode seed from the session's base seed
// and the episode number. Both peers hold the same base seed in their
// shared configuration, so no seed-exchange message is needed.
func EpisodeSeed(base uint64, episode int) uint64 {
	return mix(base ^ mix(uint64(episode)))
}

// mix is the splitmix64 finalizer.
func mix(z uint64) uint64 {
	z += 0x9E3779B97F4A7C15
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Uint64 advances the sequence by one draw.
func (s *Source) Uint64() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	s.draws++
	return z ^ (z >> 31)
}

// Float64 returns the next value in [0, 1). One draw.
func (s *Source) Float64() float64 {
	return float64(s.Uint64()>>11) / (1 << 53)
}

// IntN returns a value in [0, n). One draw. Panics if n <= 0, since a
// degenerate bound is a programming error rather than a runtime state.
func (s *Source) IntN(n int) int {
	if n <= 0 {
		panic("sharedrng: IntN bound must be positive")
	}
	return int(s.Float64() * float64(n))
}

// Range returns a value in [min, max). One draw.
func (s *Source) Range(min, max float64) float64 {
	return min + s.Float64()*(max-min)
}

// Draws returns how many times this source has been advanced. Both peers
// must report equal counts at every rendezvous point within an episode.
func (s *Source) Draws() uint64 {
	return s.draws
}

// PickLeader resolves a role-dependent decision symmetrically: it draws
// exactly once and interprets the draw against the total order of the two
// peer names. Both peers make the same call with the same two names (in
// either argument order) and agree on the result, while each compares the
// returned name against its own identity to learn its role.
func (s *Source) PickLeader(self, peer string) string {
	names := []string{self, peer}
	sort.Strings(names)
	if s.Float64() < 0.5 {
		return names[0]
	}
	return names[1]
}
