// Package session runs the outer episode loop: pick a scenario type,
// derive the episode's RNG, run the episode to completion or abort, and
// move on. One session spans a fixed number of episodes; an aborted
// episode is recorded and skipped past, it does not end the session.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/berrycraft/mirrorpeer/internal/coordinator"
	"github.com/berrycraft/mirrorpeer/internal/episode"
	"github.com/berrycraft/mirrorpeer/internal/logging"
	"github.com/berrycraft/mirrorpeer/internal/recorder"
	"github.com/berrycraft/mirrorpeer/internal/scenario"
	"github.com/berrycraft/mirrorpeer/internal/selection"
	"github.com/berrycraft/mirrorpeer/internal/sharedrng"
)

const drainTimeout = 30 * time.Second

// Config is the session-level plan. Both peers must run with identical
// Seed, StartEpisode, Episodes, SmokeTest, Enabled, and FlatWorld values
// or their selections and RNG streams diverge.
type Config struct {
	Episodes     int
	StartEpisode int
	Seed         uint64
	// SmokeTest switches selection from weighted sampling to an
	// alphabetical cycle that covers every eligible type.
	SmokeTest bool
	// Enabled restricts the scenario types in play; empty means all.
	Enabled   []string
	FlatWorld bool
	// StopTimeout bounds each episode's stop protocol; zero keeps the
	// lifecycle default.
	StopTimeout time.Duration
}

// Summary reports how a session went.
type Summary struct {
	Completed int
	Aborted   int
	Statuses  []episode.Status
}

// Driver owns one session over an established peer link.
type Driver struct {
	cfg   Config
	coord *coordinator.Coordinator
	reg   *scenario.Registry
	cat   *selection.Catalog
	rec   recorder.Recorder
	log   *logging.Logger
}

// New wires a session driver. rec may be nil when recording is disabled.
func New(cfg Config, coord *coordinator.Coordinator, reg *scenario.Registry, cat *selection.Catalog, rec recorder.Recorder, log *logging.Logger) *Driver {
	if rec == nil {
		rec = recorder.Nop{}
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &Driver{cfg: cfg, coord: coord, reg: reg, cat: cat, rec: rec, log: log}
}

// Run executes the configured number of episodes and returns the
// session summary. The returned error covers session-level failures
// only; individual episode aborts land in the summary.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if d.cfg.Episodes <= 0 {
		return sum, fmt.Errorf("session: episode count %d must be positive", d.cfg.Episodes)
	}

	eligible, err := d.cat.Eligible(d.cfg.Enabled, d.cfg.FlatWorld)
	if err != nil {
		return sum, fmt.Errorf("session: %w", err)
	}

	sel, err := d.selector(eligible)
	if err != nil {
		return sum, fmt.Errorf("session: %w", err)
	}

	d.log.Info("session starting",
		"episodes", d.cfg.Episodes,
		"start_episode", d.cfg.StartEpisode,
		"eligible", eligible,
		"smoke_test", d.cfg.SmokeTest)

	var opts []episode.Option
	if d.cfg.StopTimeout > 0 {
		opts = append(opts, episode.WithStopTimeout(d.cfg.StopTimeout))
	}

	for i := 0; i < d.cfg.Episodes; i++ {
		if ctx.Err() != nil {
			d.drain()
			return sum, fmt.Errorf("session interrupted after %d episodes: %w", i, ctx.Err())
		}
		ep := d.cfg.StartEpisode + i

		name, err := sel.Next()
		if err != nil {
			d.drain()
			return sum, fmt.Errorf("session: select episode %d: %w", ep, err)
		}
		sc, err := d.reg.New(name)
		if err != nil {
			d.drain()
			return sum, fmt.Errorf("session: build scenario for episode %d: %w", ep, err)
		}

		env := &scenario.Env{
			Episode: ep,
			Self:    d.coord.Self(),
			Peer:    d.coord.Peer(),
			Coord:   d.coord,
			RNG:     sharedrng.New(sharedrng.EpisodeSeed(d.cfg.Seed, ep)),
			Log:     d.log.WithEpisode(ep),
		}

		status := episode.NewRunner(sc, env, d.rec, d.log, opts...).Run(ctx)
		sum.Statuses = append(sum.Statuses, status)
		if status.Aborted {
			sum.Aborted++
			d.log.Warn("episode aborted", "episode", ep, "scenario", name, "error", status.Cause.Error())
		} else {
			sum.Completed++
		}

		// Drop this episode's leftover registrations and buffers; names
		// are episode-scoped so nothing from a later episode can match
		// them again.
		d.coord.ReleaseEpisode(ep)
	}

	d.drain()
	d.log.Info("session finished", "completed", sum.Completed, "aborted", sum.Aborted)
	return sum, nil
}

// selector builds the per-session selection strategy. The weighted
// selector gets its own shared stream seeded from the base seed, kept
// separate from the per-episode streams so selection draws never shift
// scenario draws.
func (d *Driver) selector(eligible []string) (selection.Selector, error) {
	if d.cfg.SmokeTest {
		return selection.NewCycle(eligible)
	}
	return selection.NewWeighted(d.cat, eligible, sharedrng.New(d.cfg.Seed))
}

// drain waits for in-flight phase handlers before the session returns,
// so no handler goroutine outlives the link it was spawned from.
func (d *Driver) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := d.coord.WaitForAllPhasesToFinish(ctx); err != nil {
		d.log.Warn("phase drain incomplete", "error", err.Error())
	}
}
