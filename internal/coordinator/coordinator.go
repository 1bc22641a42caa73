// Package coordinator implements the peer link: the scoped-event phase
// protocol the two peers use to rendezvous and exchange state during an
// episode.
//
// The contract callers must follow: register the handler for a phase
// before doing anything that can cause the counterpart to send it. The
// idiom throughout the system is "Once for the next phase, then Send the
// message that triggers the counterpart's handler for this phase".
// Sending and registering are separate statements and must not be
// inverted for a phase the caller expects to receive. One unexpected
// early arrival per scoped name is still buffered defensively rather
// than dropped.
//
// Delivery is at-most-once per scoped event name. There is no
// acknowledgement at this layer; when an ack is needed it is modeled as a
// reply phase (phase X triggers work whose completion is signaled by
// sending phase X_done).
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/berrycraft/mirrorpeer/internal/errors"
	"github.com/berrycraft/mirrorpeer/internal/logging"
	"github.com/berrycraft/mirrorpeer/internal/protocol"
)

// Sender is the outbound half of the transport. Tests substitute an
// in-memory implementation.
type Sender interface {
	Send(protocol.Message) error
}

// Handler is a one-shot phase callback. It receives the counterpart's
// payload for the phase and runs on its own goroutine; the registration's
// in-flight entry settles when it returns.
type Handler func(params json.RawMessage) error

// Coordinator wraps the transport with scoped-event dispatch, the
// one-shot handler registry, and the in-flight tracking used for drain
// and shutdown. It is constructed once per process and passed by
// reference to the lifecycle and scenario code.
type Coordinator struct {
	self string
	peer string
	link Sender
	log  *logging.Logger

	// errSink receives errors escaping phase handlers. The episode
	// lifecycle wires this into its abort path.
	errSink func(error)

	mu       sync.Mutex
	pending  map[string]Handler
	consumed map[string]bool
	early    map[string]protocol.Message
	inflight map[string]chan struct{}
	closed   bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithErrorSink routes handler errors to f instead of only logging them.
func WithErrorSink(f func(error)) Option {
	return func(c *Coordinator) { c.errSink = f }
}

// New creates a Coordinator for the given peer identities. self and peer
// are the stable process names; their total order is the deterministic
// tie-break used by role-dependent scenario decisions.
func New(self, peer string, link Sender, log *logging.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = logging.NopLogger()
	}
	c := &Coordinator{
		self:     self,
		peer:     peer,
		link:     link,
		log:      log,
		pending:  make(map[string]Handler),
		consumed: make(map[string]bool),
		early:    make(map[string]protocol.Message),
		inflight: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Self returns this peer's name.
func (c *Coordinator) Self() string { return c.self }

// Peer returns the counterpart's name.
func (c *Coordinator) Peer() string { return c.peer }

// Send builds the scoped event name, serializes the payload, and writes
// it to the outbound connection. It never blocks on a response. tag is a
// free-form debug label with no protocol significance.
func (c *Coordinator) Send(phase string, payload any, episode int, tag string) error {
	if err := validatePhase(phase); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.ErrCoordinatorClosed
	}

	msg, err := protocol.NewMessage(episode, phase, payload)
	if err != nil {
		return err
	}
	c.log.Debug("send phase", "event", msg.EventName, "tag", tag)
	return c.link.Send(msg)
}

// Once registers handler to run exactly once when a message with the
// matching scoped event name arrives. If a matching message already
// arrived before registration it is delivered immediately. Registering
// twice for the same scoped name, or for a name already consumed, is a
// protocol-discipline violation and returns an error rather than being
// swallowed.
func (c *Coordinator) Once(phase string, episode int, handler Handler) error {
	if err := validatePhase(phase); err != nil {
		return err
	}
	name := protocol.ScopedName(episode, phase)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.ErrCoordinatorClosed
	}
	if c.consumed[name] {
		c.mu.Unlock()
		return errors.NewProtocolError("registration for consumed scoped name", errors.ErrPhaseConsumed).
			WithScope(episode, phase)
	}
	if _, ok := c.pending[name]; ok {
		c.mu.Unlock()
		return errors.NewProtocolError("duplicate registration", errors.ErrPhaseRegistered).
			WithScope(episode, phase)
	}

	if msg, ok := c.early[name]; ok {
		// The counterpart's message beat the registration. Deliver
		// immediately; the call ordering contract should make this rare.
		delete(c.early, name)
		c.consumed[name] = true
		done := make(chan struct{})
		c.inflight[name] = done
		c.mu.Unlock()
		c.log.Debug("delivering buffered early arrival", "event", name)
		go c.invoke(name, handler, msg.EventParams, done)
		return nil
	}

	c.pending[name] = handler
	c.mu.Unlock()
	return nil
}

// Dispatch routes one inbound message to its registered handler. It is
// installed as the transport's inbound callback and runs on the read
// goroutine, so handlers themselves are spawned onto their own
// goroutines to keep the read loop draining.
func (c *Coordinator) Dispatch(msg protocol.Message) {
	name := msg.EventName

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if handler, ok := c.pending[name]; ok {
		delete(c.pending, name)
		c.consumed[name] = true
		done := make(chan struct{})
		c.inflight[name] = done
		c.mu.Unlock()
		go c.invoke(name, handler, msg.EventParams, done)
		return
	}
	if c.consumed[name] {
		c.mu.Unlock()
		// Redelivery or a stray duplicate: one-shot semantics say drop.
		c.log.Warn("dropping message for consumed scoped name", "event", name)
		return
	}
	if _, ok := c.early[name]; ok {
		c.mu.Unlock()
		c.log.Warn("dropping second early arrival", "event", name)
		return
	}
	c.early[name] = msg
	c.mu.Unlock()
	c.log.Debug("buffered early arrival", "event", name)
}

// invoke runs a handler, recovering panics into errors, and settles the
// in-flight entry when the handler finishes either way.
func (c *Coordinator) invoke(name string, handler Handler, params json.RawMessage, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		delete(c.inflight, name)
		c.mu.Unlock()
		close(done)
	}()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler for %s panicked: %v\n%s", name, r, debug.Stack())
			}
		}()
		return handler(params)
	}()

	if err != nil {
		c.log.Error("phase handler failed", "event", name, "error", err.Error())
		if c.errSink != nil {
			c.errSink(err)
		}
	}
}

// Await registers a one-shot handler for the phase and blocks until the
// counterpart's payload arrives or ctx is done. It is the convenience
// most linear phase chains use.
func (c *Coordinator) Await(ctx context.Context, phase string, episode int) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)
	err := c.Once(phase, episode, func(params json.RawMessage) error {
		ch <- params
		return nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case params := <-ch:
		return params, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Exchange is the workhorse idiom for symmetric phases: register the
// one-shot handler for the phase, then send this peer's payload, then
// block for the counterpart's. Registration strictly precedes the send so
// the counterpart's reply always finds a listener.
func (c *Coordinator) Exchange(ctx context.Context, phase string, payload any, episode int, tag string) (json.RawMessage, error) {
	ch := make(chan json.RawMessage, 1)
	if err := c.Once(phase, episode, func(params json.RawMessage) error {
		ch <- params
		return nil
	}); err != nil {
		return nil, err
	}
	if err := c.Send(phase, payload, episode, tag); err != nil {
		return nil, err
	}

	select {
	case params := <-ch:
		return params, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Barrier rendezvouses both peers at a point with no payload exchange:
// register, send, wait. Both peers call it with the same episode number.
func (c *Coordinator) Barrier(ctx context.Context, episode int) error {
	ch := make(chan struct{}, 1)
	if err := c.Once(protocol.PhaseBarrier, episode, func(json.RawMessage) error {
		ch <- struct{}{}
		return nil
	}); err != nil {
		return err
	}
	if err := c.Send(protocol.PhaseBarrier, nil, episode, "barrier"); err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForAllPhasesToFinish blocks until every in-flight handler has
// settled or ctx is done. Callers use it before teardown to guarantee no
// handler runs after shutdown begins.
func (c *Coordinator) WaitForAllPhasesToFinish(ctx context.Context) error {
	for {
		c.mu.Lock()
		var done chan struct{}
		for _, ch := range c.inflight {
			done = ch
			break
		}
		c.mu.Unlock()

		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// InFlight returns the number of handlers whose bodies have started but
// not yet settled.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Pending returns the number of registered handlers that have not yet
// been triggered.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ReleaseEpisode discards bookkeeping for an episode that has resolved
// its stop protocol: un-triggered registrations, buffered strays, and
// consumed-name records scoped to that episode number. A message scoped
// to a released episode arriving later is buffered as an early arrival
// and ages out on the next release, which is exactly the stray-message
// containment the scoping exists for.
func (c *Coordinator) ReleaseEpisode(episode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.pending {
		if ep, _, err := protocol.ParseScopedName(name); err == nil && ep == episode {
			delete(c.pending, name)
		}
	}
	for name := range c.consumed {
		if ep, _, err := protocol.ParseScopedName(name); err == nil && ep == episode {
			delete(c.consumed, name)
		}
	}
	for name := range c.early {
		if ep, _, err := protocol.ParseScopedName(name); err == nil && ep == episode {
			delete(c.early, name)
		}
	}
}

// Close stops accepting sends and registrations. In-flight handlers are
// left to settle; use WaitForAllPhasesToFinish to drain them.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.pending = make(map[string]Handler)
	c.early = make(map[string]protocol.Message)
	c.mu.Unlock()
}

func validatePhase(phase string) error {
	if phase == "" || strings.ContainsAny(phase, " \t\r\n") {
		return errors.NewProtocolError(fmt.Sprintf("invalid phase name %q", phase), nil)
	}
	return nil
}
