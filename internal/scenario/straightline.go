package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
)

// StraightLine walks both agents along parallel straight lines: a shared
// heading and per-step stride are drawn symmetrically, each peer steps,
// and the peers rendezvous after every step to swap positions. It is the
// simplest scenario exercising the full phase chain and is only eligible
// on flat worlds.
type StraightLine struct {
	steps int
}

// Name implements Scenario.
func (*StraightLine) Name() string { return "straightline" }

// Run drives the walk. Heading, step count, and every stride are
// symmetric draws consumed identically by both peers.
func (s *StraightLine) Run(ctx context.Context, env *Env) error {
	heading := env.RNG.Range(0, 2*math.Pi)
	s.steps = 4 + env.RNG.IntN(4)

	for i := 0; i < s.steps; i++ {
		stride := env.RNG.Range(2, 5)
		env.SelfState.X += stride * math.Cos(heading)
		env.SelfState.Z += stride * math.Sin(heading)
		env.SelfState.Yaw = heading

		phase := fmt.Sprintf("walk_step_%d", i)
		params, err := env.Coord.Exchange(ctx, phase, env.SelfState, env.Episode, "step")
		if err != nil {
			return err
		}
		if err := json.Unmarshal(params, &env.PeerState); err != nil {
			return fmt.Errorf("decode counterpart position at step %d: %w", i, err)
		}
	}

	// Final rendezvous so both peers finish the chain together.
	params, err := env.Coord.Exchange(ctx, "walk_final_pos", env.SelfState, env.Episode, "final")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(params, &env.PeerState); err != nil {
		return fmt.Errorf("decode counterpart final position: %w", err)
	}

	env.Log.Info("walk finished", "steps", s.steps, "heading", heading)
	return nil
}
