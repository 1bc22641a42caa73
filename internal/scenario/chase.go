package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
)

// Chase is a pursuit scenario: one peer chases, the other evades. The
// chaser role, spawn offset, and round count all come from symmetric
// shared-RNG draws, so both peers agree on every decision without
// exchanging it. Each round both peers step, then rendezvous on a
// per-round phase to swap positions.
type Chase struct {
	chaser string
	rounds int
}

// Name implements Scenario.
func (*Chase) Name() string { return "chase" }

// Setup separates the two agents and assigns the chaser role. Every draw
// below happens on both peers in the same order; only the interpretation
// differs by role.
func (c *Chase) Setup(ctx context.Context, env *Env) error {
	distance := env.RNG.Range(8, 20)
	angle := env.RNG.Range(0, 2*math.Pi)
	c.chaser = env.RNG.PickLeader(env.Self, env.Peer)

	// The evader repositions away from the chaser; both peers apply the
	// same offset to their local view of the evader.
	dx := distance * math.Cos(angle)
	dz := distance * math.Sin(angle)
	if c.chaser == env.Self {
		env.PeerState.X += dx
		env.PeerState.Z += dz
	} else {
		env.SelfState.X += dx
		env.SelfState.Z += dz
	}

	// Align both views with a position exchange before the first round.
	params, err := env.Coord.Exchange(ctx, "chase_setup_pos", env.SelfState, env.Episode, "setup")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(params, &env.PeerState); err != nil {
		return fmt.Errorf("decode counterpart setup position: %w", err)
	}

	env.Log.Info("chase configured",
		"chaser", c.chaser,
		"distance", distance,
		"draws", env.RNG.Draws())
	return nil
}

// Run plays the pursuit rounds. The round count and the evader's jitter
// are symmetric draws; skipping one on either peer would desynchronize
// the streams for the rest of the episode.
func (c *Chase) Run(ctx context.Context, env *Env) error {
	c.rounds = 3 + env.RNG.IntN(4)

	const chaserSpeed, evaderSpeed = 4.3, 3.9

	for round := 0; round < c.rounds; round++ {
		// Both peers draw the evader jitter even though only the evader
		// applies it.
		jx := env.RNG.Range(-1, 1)
		jz := env.RNG.Range(-1, 1)

		if c.chaser == env.Self {
			c.step(&env.SelfState, env.PeerState, chaserSpeed, 0, 0)
		} else {
			c.flee(&env.SelfState, env.PeerState, evaderSpeed, jx, jz)
		}

		phase := fmt.Sprintf("chase_round_%d", round)
		params, err := env.Coord.Exchange(ctx, phase, env.SelfState, env.Episode, "round")
		if err != nil {
			return err
		}
		if err := json.Unmarshal(params, &env.PeerState); err != nil {
			return fmt.Errorf("decode counterpart position in round %d: %w", round, err)
		}
	}
	return nil
}

// Teardown logs the episode summary.
func (c *Chase) Teardown(_ context.Context, env *Env) error {
	env.Log.Info("chase finished", "rounds", c.rounds, "chaser", c.chaser)
	return nil
}

// step moves the agent toward the target by at most speed.
func (c *Chase) step(self *AgentState, target AgentState, speed, jx, jz float64) {
	dx := target.X - self.X + jx
	dz := target.Z - self.Z + jz
	dist := math.Hypot(dx, dz)
	if dist < 1e-9 {
		return
	}
	scale := speed / dist
	if scale > 1 {
		scale = 1
	}
	self.X += dx * scale
	self.Z += dz * scale
	self.Yaw = math.Atan2(dz, dx)
}

// flee moves the agent directly away from the pursuer, plus jitter.
func (c *Chase) flee(self *AgentState, pursuer AgentState, speed, jx, jz float64) {
	dx := self.X - pursuer.X
	dz := self.Z - pursuer.Z
	dist := math.Hypot(dx, dz)
	if dist < 1e-9 {
		dx, dz, dist = 1, 0, 1
	}
	self.X += dx/dist*speed + jx
	self.Z += dz/dist*speed + jz
	self.Yaw = math.Atan2(dz, dx)
}
