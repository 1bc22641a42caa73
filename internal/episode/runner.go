package episode

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/berrycraft/mirrorpeer/internal/coordinator"
	"github.com/berrycraft/mirrorpeer/internal/errors"
	"github.com/berrycraft/mirrorpeer/internal/logging"
	"github.com/berrycraft/mirrorpeer/internal/protocol"
	"github.com/berrycraft/mirrorpeer/internal/recorder"
	"github.com/berrycraft/mirrorpeer/internal/scenario"
)

const defaultStopTimeout = 30 * time.Second

// Status is the outcome of one episode.
type Status struct {
	Episode  int
	Scenario string
	Aborted  bool
	// Cause is the abort cause; nil when the episode completed.
	Cause error
}

// abortPayload travels on the error phase to tell the counterpart why
// the episode is being cut short.
type abortPayload struct {
	Peer    string `json:"peer"`
	Message string `json:"message"`
}

// Option configures a Runner.
type Option func(*Runner)

// WithStopTimeout bounds how long the stop protocol may wait for
// recorder closure and the stopped handshake before aborting.
func WithStopTimeout(d time.Duration) Option {
	return func(r *Runner) { r.stopTimeout = d }
}

// Runner executes one episode. A Runner is single-use; build a fresh one
// per episode.
type Runner struct {
	sc          scenario.Scenario
	env         *scenario.Env
	coord       *coordinator.Coordinator
	rec         recorder.Recorder
	log         *logging.Logger
	stopTimeout time.Duration

	mu            sync.Mutex
	state         State
	stopRequested bool
	abortCause    error
	tornDown      bool
	cancelRun     context.CancelFunc
	recStarted    bool
	recClosed     bool
	recErr        error
	handshakeDone bool
	handshakeErr  error

	abortCh chan struct{}
}

// NewRunner wires a runner for one episode. env carries the episode
// number, coordinator, and shared RNG; sc is a fresh scenario instance.
func NewRunner(sc scenario.Scenario, env *scenario.Env, rec recorder.Recorder, log *logging.Logger, opts ...Option) *Runner {
	if rec == nil {
		rec = recorder.Nop{}
	}
	if log == nil {
		log = logging.NopLogger()
	}
	r := &Runner{
		sc:          sc,
		env:         env,
		coord:       env.Coord,
		rec:         rec,
		log:         log.WithEpisode(env.Episode),
		stopTimeout: defaultStopTimeout,
		state:       StateSetup,
		abortCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State reports the runner's current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()
	r.log.Debug("lifecycle transition", "from", prev.String(), "to", s.String())
}

// Run drives the episode to completion and reports its outcome. The
// returned Status is Aborted when either peer hit an error; Run itself
// does not return an error because an aborted episode is a handled
// outcome, not a session failure.
func (r *Runner) Run(ctx context.Context) Status {
	episode := r.env.Episode
	r.log.Info("episode starting", "scenario", r.sc.Name())

	// The run context exists before the cross-peer listeners: their
	// handlers cancel it, so a peer abort or stop arriving during
	// registration or recorder start must already have something to
	// cancel.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancelRun = cancel
	r.mu.Unlock()

	// Both cross-peer listeners go in before any phase traffic for this
	// episode, so a counterpart that fails or finishes first is never
	// talking into the void.
	if err := r.coord.Once(protocol.PhaseError, episode, r.onPeerAbort); err != nil {
		return r.abort(ctx, fmt.Errorf("register abort listener: %w", err), false)
	}
	if err := r.coord.Once(protocol.PhaseStop, episode, r.onPeerStop); err != nil {
		return r.abort(ctx, fmt.Errorf("register stop listener: %w", err), true)
	}

	if err := r.rec.Begin(runCtx, episode); err != nil {
		if cause := r.cause(); cause != nil {
			return r.abort(ctx, cause, false)
		}
		return r.abort(ctx, fmt.Errorf("start recording: %w", err), true)
	}
	r.mu.Lock()
	r.recStarted = true
	r.mu.Unlock()

	if s, ok := r.sc.(scenario.Setupper); ok {
		if err := s.Setup(runCtx, r.env); err != nil {
			if cause := r.cause(); cause != nil {
				return r.abort(ctx, cause, false)
			}
			if r.stopping() {
				return r.stop(ctx)
			}
			return r.abort(ctx, errors.NewScenarioError("setup failed", err).WithScenario(r.sc.Name()).WithHook("setup"), true)
		}
	}

	r.setState(StateRunning)
	runErr := r.sc.Run(runCtx, r.env)

	// A peer abort cancels the run context, so the run error is just
	// fallout; the peer's cause wins. A remote stop also cancels the run
	// context, and is not an error at all.
	if cause := r.cause(); cause != nil {
		return r.abort(ctx, cause, false)
	}
	if runErr != nil && !r.stopping() {
		return r.abort(ctx, errors.NewScenarioError("run failed", runErr).WithScenario(r.sc.Name()).WithHook("run"), true)
	}

	return r.stop(ctx)
}

// stop carries both peers through the stop protocol: announce the stop,
// wait for the recorder to confirm closure, then complete the stopped
// handshake so neither peer tears down while the other still records.
func (r *Runner) stop(ctx context.Context) Status {
	episode := r.env.Episode

	if r.requestStop() {
		// We initiated; tell the counterpart. Its stop listener cancels
		// its run.
		if err := r.coord.Send(protocol.PhaseStop, nil, episode, "initiate stop"); err != nil {
			return r.abort(ctx, fmt.Errorf("announce stop: %w", err), false)
		}
	}
	r.setState(StateStopping)

	stopCtx, cancelStop := context.WithTimeout(ctx, r.stopTimeout)
	defer cancelStop()
	go func() {
		select {
		case <-r.abortCh:
			cancelStop()
		case <-stopCtx.Done():
		}
	}()

	if err := r.closeRecording(stopCtx); err != nil {
		if cause := r.cause(); cause != nil {
			return r.abort(ctx, cause, false)
		}
		return r.abort(ctx, fmt.Errorf("recorder closure: %w", err), true)
	}

	if err := r.handshake(stopCtx); err != nil {
		if cause := r.cause(); cause != nil {
			return r.abort(ctx, cause, false)
		}
		return r.abort(ctx, fmt.Errorf("stopped handshake: %w", err), true)
	}

	r.setState(StateStopped)
	r.teardown(ctx)
	r.setState(StateTornDown)
	r.log.Info("episode completed", "scenario", r.sc.Name())
	return Status{Episode: episode, Scenario: r.sc.Name(), Aborted: false}
}

// closeRecording signals recording end and waits for closure
// confirmation. It runs at most once; later calls return the first
// outcome. An episode whose recording never started has nothing to
// close.
func (r *Runner) closeRecording(ctx context.Context) error {
	r.mu.Lock()
	if !r.recStarted || r.recClosed {
		err := r.recErr
		r.mu.Unlock()
		return err
	}
	r.recClosed = true
	r.mu.Unlock()

	err := r.rec.End(ctx, r.env.Episode)
	r.mu.Lock()
	r.recErr = err
	r.mu.Unlock()
	return err
}

// handshake completes the stopped exchange with the counterpart,
// carrying each peer's final position. It runs at most once; later
// calls return the first outcome.
func (r *Runner) handshake(ctx context.Context) error {
	r.mu.Lock()
	if r.handshakeDone {
		err := r.handshakeErr
		r.mu.Unlock()
		return err
	}
	r.handshakeDone = true
	r.mu.Unlock()

	raw, err := r.coord.Exchange(ctx, protocol.PhaseStopped, r.env.SelfState, r.env.Episode, "stopped handshake")
	if err != nil {
		r.mu.Lock()
		r.handshakeErr = err
		r.mu.Unlock()
		return err
	}
	if uerr := json.Unmarshal(raw, &r.env.PeerState); uerr != nil {
		r.log.Warn("undecodable final peer state", "error", uerr.Error())
	}
	return nil
}

// abort finishes the episode on the abort path. notify is true when the
// cause is local and the counterpart still needs to hear about it. The
// aborting peer still walks the tail of the stop protocol: its recording
// is closed and the stopped handshake attempted, so the counterpart's
// own abort path has a partner to converge with. Failures in that tail
// are logged, not escalated; the episode is already lost.
func (r *Runner) abort(ctx context.Context, cause error, notify bool) Status {
	r.setAbort(cause)
	r.setState(StateAborting)
	r.log.Error("episode aborting", "scenario", r.sc.Name(), "error", cause.Error())

	if notify {
		payload := abortPayload{Peer: r.coord.Self(), Message: cause.Error()}
		if err := r.coord.Send(protocol.PhaseError, payload, r.env.Episode, "abort notification"); err != nil {
			r.log.Warn("abort notification failed", "error", err.Error())
		}
	}

	// Swallow any late stop announcement; the stop is in progress now.
	r.requestStop()

	// The tail gets its own bounded window so it still runs when the
	// abort came from the outer context being cancelled.
	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), r.stopTimeout)
	defer cancelStop()

	if err := r.closeRecording(stopCtx); err != nil {
		r.log.Warn("recorder closure during abort failed", "error", err.Error())
	}
	if err := r.handshake(stopCtx); err != nil {
		r.log.Warn("stopped handshake during abort incomplete", "error", err.Error())
	} else {
		r.setState(StateStopped)
	}

	r.teardown(ctx)
	r.setState(StateTornDown)
	return Status{Episode: r.env.Episode, Scenario: r.sc.Name(), Aborted: true, Cause: cause}
}

// teardown runs the scenario's cleanup hook exactly once, success or
// abort.
func (r *Runner) teardown(ctx context.Context) {
	r.mu.Lock()
	if r.tornDown {
		r.mu.Unlock()
		return
	}
	r.tornDown = true
	r.mu.Unlock()

	td, ok := r.sc.(scenario.Teardowner)
	if !ok {
		return
	}
	// Teardown still runs when ctx is already cancelled; give it its own
	// grace window.
	tdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.stopTimeout)
	defer cancel()
	if err := td.Teardown(tdCtx, r.env); err != nil {
		r.log.Warn("teardown failed", "scenario", r.sc.Name(), "error", err.Error())
	}
}

// requestStop flips the stop guard. It reports true only for the call
// that won the race, so the stop announcement goes out at most once no
// matter how many triggers fire.
func (r *Runner) requestStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopRequested {
		return false
	}
	r.stopRequested = true
	return true
}

func (r *Runner) stopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRequested
}

func (r *Runner) setAbort(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abortCause == nil {
		r.abortCause = cause
		close(r.abortCh)
	}
}

func (r *Runner) cause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortCause
}

// onPeerAbort handles the counterpart's error-phase notification. It
// records the remote cause and cancels the local run so both peers land
// on the abort path.
func (r *Runner) onPeerAbort(params json.RawMessage) error {
	var p abortPayload
	if err := json.Unmarshal(params, &p); err != nil {
		p.Message = "unintelligible abort notification"
	}
	if p.Peer == "" {
		p.Peer = r.coord.Peer()
	}
	r.log.Warn("peer aborted episode", "peer", p.Peer, "reason", p.Message)

	r.setAbort(fmt.Errorf("peer %s: %s: %w", p.Peer, p.Message, errors.ErrEpisodeAborted))
	r.mu.Lock()
	cancel := r.cancelRun
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// onPeerStop handles the counterpart's stop announcement. The first stop
// request wins; if we already initiated locally this is the benign
// crossing of two simultaneous announcements.
func (r *Runner) onPeerStop(json.RawMessage) error {
	if !r.requestStop() {
		r.log.Debug("stop announcement crossed with local stop")
		return nil
	}
	r.log.Info("peer requested stop")
	r.mu.Lock()
	cancel := r.cancelRun
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}
