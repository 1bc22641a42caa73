// Package transport provides the duplex byte channel between the two
// peers. Each peer is simultaneously a listener (accepting the
// counterpart's connection) and an initiator (dialing out to the
// counterpart), so there are two logical half-duplex streams per pair
// rather than one shared socket. A dropped outbound connection can be
// retried without disturbing the inbound listener.
//
// Inbound bytes are split on the line terminator and decoded one message
// per line. Partial lines are held until completed. Decode failures are
// logged and the offending line dropped; malformed input is never fatal
// to the read loop.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/berrycraft/mirrorpeer/internal/errors"
	"github.com/berrycraft/mirrorpeer/internal/logging"
	"github.com/berrycraft/mirrorpeer/internal/protocol"
)

const (
	// defaultMaxLineBytes caps one message line. Longer lines are dropped.
	defaultMaxLineBytes = 1 << 20

	// defaultDialRetryInterval is the initial backoff between dial attempts
	// while establishing the outbound connection.
	defaultDialRetryInterval = 250 * time.Millisecond

	// maxDialRetryInterval caps the backoff growth.
	maxDialRetryInterval = 5 * time.Second
)

// Config holds the addresses for one peer's two half-duplex streams.
type Config struct {
	// ListenAddr is the local endpoint the counterpart dials into.
	ListenAddr string
	// PeerAddr is the counterpart's listening endpoint.
	PeerAddr string
	// DialTimeout bounds one outbound connection attempt. Zero means
	// 5 seconds.
	DialTimeout time.Duration
	// MaxLineBytes caps the size of one inbound line. Zero means 1 MiB.
	MaxLineBytes int
}

// Handler receives decoded inbound messages in arrival order.
type Handler func(protocol.Message)

// Conn is one peer's end of the duplex link. Outbound messages go over
// the dialed connection; inbound messages arrive on whatever connection
// the counterpart dialed into our listener.
type Conn struct {
	cfg Config
	log *logging.Logger

	handler      Handler
	onDisconnect func(error)

	listener net.Listener

	mu  sync.Mutex // guards out and in
	out net.Conn
	in  net.Conn

	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// New creates a Conn. SetHandler must be called before Listen so no
// inbound message can arrive without a dispatcher.
func New(cfg Config, log *logging.Logger) *Conn {
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = defaultMaxLineBytes
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &Conn{
		cfg:    cfg,
		log:    log,
		closed: make(chan struct{}),
	}
}

// SetHandler installs the inbound dispatch callback.
func (c *Conn) SetHandler(h Handler) {
	c.handler = h
}

// OnDisconnect installs a callback invoked when either half of the link
// drops mid-session. The coordination layer routes this into the episode
// abort path, since the peer can no longer coordinate.
func (c *Conn) OnDisconnect(f func(error)) {
	c.onDisconnect = f
}

// Listen binds the local endpoint and starts accepting the counterpart's
// inbound connection. It returns once the listener is bound; accepted
// connections are served on a background goroutine.
func (c *Conn) Listen() error {
	ln, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return errors.NewTransportError("listen failed", err).
			WithDirection("inbound").WithAddr(c.cfg.ListenAddr)
	}
	c.listener = ln
	c.log.Info("listening for peer", "addr", ln.Addr().String())

	c.wg.Add(1)
	go c.acceptLoop()
	return nil
}

// Addr returns the bound listen address. Valid after Listen.
func (c *Conn) Addr() string {
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// SetPeerAddr overrides the counterpart's address. Needed when the
// counterpart binds an ephemeral port that is only known once its
// listener is up. Must be called before Dial.
func (c *Conn) SetPeerAddr(addr string) {
	c.cfg.PeerAddr = addr
}

// Dial establishes the outbound connection to the counterpart, retrying
// with capped backoff until it succeeds, the context is done, or the Conn
// is closed. Retrying applies only to initial establishment; a drop after
// that surfaces through Send and OnDisconnect.
func (c *Conn) Dial(ctx context.Context) error {
	interval := defaultDialRetryInterval
	for {
		conn, err := net.DialTimeout("tcp", c.cfg.PeerAddr, c.cfg.DialTimeout)
		if err == nil {
			c.mu.Lock()
			c.out = conn
			c.mu.Unlock()
			c.log.Info("connected to peer", "addr", c.cfg.PeerAddr)
			return nil
		}

		c.log.Debug("dial attempt failed", "addr", c.cfg.PeerAddr, "error", err.Error())
		select {
		case <-ctx.Done():
			return errors.NewTransportError("dial abandoned", ctx.Err()).
				WithDirection("outbound").WithAddr(c.cfg.PeerAddr)
		case <-c.closed:
			return errors.NewTransportError("dial abandoned", errors.ErrCoordinatorClosed).
				WithDirection("outbound").WithAddr(c.cfg.PeerAddr)
		case <-time.After(interval):
		}

		interval *= 2
		if interval > maxDialRetryInterval {
			interval = maxDialRetryInterval
		}
	}
}

// Start is Listen followed by Dial.
func (c *Conn) Start(ctx context.Context) error {
	if err := c.Listen(); err != nil {
		return err
	}
	return c.Dial(ctx)
}

// Send serializes the message and writes it with its trailing line
// terminator in a single write, so a message is never split or merged on
// the wire. It never blocks on a response.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.out == nil {
		c.mu.Unlock()
		return errors.NewTransportError("send failed", errors.ErrNotConnected).
			WithDirection("outbound").WithAddr(c.cfg.PeerAddr)
	}
	_, werr := c.out.Write(data)
	if werr != nil {
		c.out.Close()
		c.out = nil
	}
	c.mu.Unlock()

	if werr != nil {
		terr := errors.NewTransportError("send failed", werr).
			WithDirection("outbound").WithAddr(c.cfg.PeerAddr)
		c.notifyDisconnect(terr)
		return terr
	}
	return nil
}

// Close shuts down both halves of the link and waits for the read
// goroutines to finish.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })

	if c.listener != nil {
		c.listener.Close()
	}
	c.mu.Lock()
	if c.out != nil {
		c.out.Close()
		c.out = nil
	}
	if c.in != nil {
		c.in.Close()
		c.in = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

// acceptLoop accepts the counterpart's connection and serves its read
// loop. If the inbound connection drops, the loop keeps accepting so the
// counterpart may redial for the next episode.
func (c *Conn) acceptLoop() {
	defer c.wg.Done()
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.log.Warn("accept failed", "error", err.Error())
			return
		}
		c.log.Info("peer connected", "remote", conn.RemoteAddr().String())
		c.mu.Lock()
		c.in = conn
		c.mu.Unlock()
		c.readLoop(conn)
		c.mu.Lock()
		if c.in == conn {
			c.in = nil
		}
		c.mu.Unlock()
	}
}

// readLoop buffers inbound bytes, splits them on the line terminator,
// and dispatches each complete line. It runs until the connection drops.
func (c *Conn) readLoop(conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReaderSize(conn, c.cfg.MaxLineBytes)
	for {
		line, err := r.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			// Overlong line: discard through the next terminator and
			// keep reading. The message itself is unrecoverable.
			c.log.Warn("dropping overlong line", "limit", c.cfg.MaxLineBytes)
			for err == bufio.ErrBufferFull {
				_, err = r.ReadSlice('\n')
			}
			if err == nil {
				continue
			}
		}
		if err != nil {
			if err == io.EOF {
				err = errors.ErrPeerDisconnected
			}
			select {
			case <-c.closed:
			default:
				c.notifyDisconnect(errors.NewTransportError("read failed", err).
					WithDirection("inbound").WithAddr(conn.RemoteAddr().String()))
			}
			return
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}

		msg, derr := protocol.Decode(line)
		if derr != nil {
			// Malformed input must never crash the read loop.
			c.log.Warn("dropping malformed line", "error", derr.Error())
			continue
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

func (c *Conn) notifyDisconnect(err error) {
	c.log.Error("peer link dropped", "error", err.Error())
	if c.onDisconnect != nil {
		c.onDisconnect(err)
	}
}
