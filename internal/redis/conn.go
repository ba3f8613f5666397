package redis

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"hrb-go/internal/hrb"
)

// Completion receives the outcome of one command. err is a *ConnError when
// the connection failed before the reply arrived and a *ProtocolError when
// the reply could not be decoded; error replies from the server arrive as a
// Reply of type ReplyError with a nil err.
//
// Completions run on the connection's reader goroutine. They may call Submit
// but must not block waiting for another reply, so calling Do from inside a
// completion deadlocks the connection.
type Completion func(reply Reply, err error)

// Options configures a Conn.
type Options struct {
	// DialTimeout bounds connection establishment. Zero means no limit.
	DialTimeout time.Duration

	// Password, if set, is sent with AUTH ahead of the first command.
	Password string

	// DB, if non-zero, is selected ahead of the first command.
	DB int

	Logger hrb.Logger
}

type connState int

const (
	stateIdle connState = iota
	stateOpen
	stateFailed
	stateClosed
)

// Conn pipelines commands over a single connection. Replies carry no
// request identifier, so each reply is matched to the oldest command still
// waiting for one; completions run in submission order on the connection's
// reader goroutine.
//
// The connection is dialed on the first Submit. When it fails, every waiting
// completion receives a *ConnError exactly once and later submissions fail
// immediately until Reconnect is called. Conn never reconnects on its own.
//
// Conn only bounds dialing; reads and writes wait as long as the network
// lets them.
type Conn struct {
	addr   string
	opts   Options
	logger hrb.Logger

	mu      sync.Mutex
	state   connState
	sess    *session
	seq     uint64
	failure error
}

// New returns an unconnected Conn for addr.
func New(addr string, opts Options) *Conn {
	logger := opts.Logger
	if logger == nil {
		logger = hrb.NewNopLogger()
	}
	return &Conn{addr: addr, opts: opts, logger: logger}
}

// pending is a submitted command that has not been answered yet.
type pending struct {
	seq  uint64
	name string
	done Completion
}

// session is the lifetime of one network connection. All fields other than
// ctx are guarded by Conn.mu.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   net.Conn
	out    bytes.Buffer
	wake   chan struct{}
	stop   chan struct{}
	closed bool
	cause  error

	queue []pending
	head  int
}

func (s *session) push(p pending) {
	s.queue = append(s.queue, p)
}

func (s *session) pop() (pending, bool) {
	if s.head == len(s.queue) {
		return pending{}, false
	}
	p := s.queue[s.head]
	s.queue[s.head] = pending{}
	s.head++
	if s.head == len(s.queue) {
		s.queue = s.queue[:0]
		s.head = 0
	}
	return p, true
}

func (s *session) drain() []pending {
	rest := append([]pending(nil), s.queue[s.head:]...)
	s.queue = nil
	s.head = 0
	return rest
}

func (s *session) len() int {
	return len(s.queue) - s.head
}

// shutdown marks the session dead and releases its network resources. The
// first cause recorded wins.
func (s *session) shutdown(cause error) {
	if s.closed {
		return
	}
	s.closed = true
	s.cause = cause
	s.cancel()
	close(s.stop)
	if s.conn != nil {
		s.conn.Close()
	}
}

// Submit queues cmd and returns without waiting. done is called exactly once.
// It may itself call Submit. A nil done logs failures and discards replies.
func (c *Conn) Submit(cmd Command, done Completion) {
	if done == nil {
		done = c.observe(cmd.Name())
	}

	c.mu.Lock()
	switch c.state {
	case stateClosed, stateFailed:
		cause := c.failure
		c.mu.Unlock()
		done(Reply{}, &ConnError{Err: cause})
		return
	case stateIdle:
		c.startLocked()
	}

	s := c.sess
	c.enqueueLocked(s, cmd, done)
	c.mu.Unlock()
}

func (c *Conn) enqueueLocked(s *session, cmd Command, done Completion) {
	c.seq++
	appendCommand(&s.out, cmd)
	s.push(pending{seq: c.seq, name: cmd.Name(), done: done})
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// observe returns a completion that logs failures.
func (c *Conn) observe(name string) Completion {
	return func(reply Reply, err error) {
		if err == nil {
			err = reply.Err()
		}
		if err != nil {
			c.logger.Warn("backend command failed", "command", name, "error", err)
		}
	}
}

func (c *Conn) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	c.sess = s
	c.state = stateOpen
	c.failure = nil

	if c.opts.Password != "" {
		c.enqueueLocked(s, Cmd("AUTH", c.opts.Password), c.observe("AUTH"))
	}
	if c.opts.DB != 0 {
		c.enqueueLocked(s, Cmd("SELECT", c.opts.DB), c.observe("SELECT"))
	}
	go c.run(s)
}

// run dials and then serves the session until it ends. It is the only
// goroutine that invokes the session's completions.
func (c *Conn) run(s *session) {
	d := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := d.DialContext(s.ctx, "tcp", c.addr)
	if err != nil {
		c.finish(s, fmt.Errorf("dialing %s: %w", c.addr, err))
		return
	}

	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		conn.Close()
		c.finish(s, nil)
		return
	}
	s.conn = conn
	c.mu.Unlock()

	c.logger.Debug("backend connected", "addr", c.addr)
	go c.writeLoop(s)
	c.readLoop(s, bufio.NewReader(conn))
}

func (c *Conn) writeLoop(s *session) {
	var buf []byte
	for {
		select {
		case <-s.wake:
		case <-s.stop:
			return
		}

		c.mu.Lock()
		if s.closed {
			c.mu.Unlock()
			return
		}
		buf = append(buf[:0], s.out.Bytes()...)
		s.out.Reset()
		conn := s.conn
		c.mu.Unlock()

		if len(buf) == 0 {
			continue
		}
		if _, err := conn.Write(buf); err != nil {
			c.mu.Lock()
			s.shutdown(fmt.Errorf("writing commands: %w", err))
			c.mu.Unlock()
			return
		}
	}
}

func (c *Conn) readLoop(s *session, r *bufio.Reader) {
	for {
		reply, err := readReply(r)
		var perr *ProtocolError
		if err != nil && !errors.As(err, &perr) {
			c.finish(s, fmt.Errorf("reading reply: %w", err))
			return
		}

		c.mu.Lock()
		if s.closed {
			c.mu.Unlock()
			c.finish(s, nil)
			return
		}
		p, ok := s.pop()
		c.mu.Unlock()

		if !ok {
			c.finish(s, &ProtocolError{Msg: "reply without a pending command", Fatal: true})
			return
		}

		if perr != nil {
			p.done(Reply{}, perr)
			if perr.Fatal {
				c.finish(s, perr)
				return
			}
			continue
		}
		p.done(reply, nil)
	}
}

// finish ends the session and fails everything still queued on it.
func (c *Conn) finish(s *session, err error) {
	c.mu.Lock()
	s.shutdown(err)
	cause := s.cause
	if cause == nil {
		cause = ErrClosed
	}
	rest := s.drain()
	if c.sess == s {
		c.sess = nil
		c.state = stateFailed
		c.failure = cause
	}
	c.mu.Unlock()

	if !errors.Is(cause, ErrClosed) {
		c.logger.Warn("backend connection failed", "addr", c.addr, "pending", len(rest), "error", cause)
	}

	cerr := &ConnError{Err: cause}
	for _, p := range rest {
		p.done(Reply{}, cerr)
	}
}

// Do submits a command and waits for its outcome. Error replies are returned
// as *ServerError. If ctx ends first, Do returns ctx.Err() and the command's
// eventual reply is discarded. Do must not be called from a Completion.
func (c *Conn) Do(ctx context.Context, args ...any) (Reply, error) {
	type outcome struct {
		reply Reply
		err   error
	}
	ch := make(chan outcome, 1)
	c.Submit(Cmd(args...), func(reply Reply, err error) {
		ch <- outcome{reply, err}
	})

	select {
	case o := <-ch:
		if o.err != nil {
			return o.reply, o.err
		}
		return o.reply, o.reply.Err()
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Close tears the connection down. Commands still waiting fail with a
// *ConnError wrapping ErrClosed, delivered from the connection's goroutine.
// Later submissions fail immediately until Reconnect is called.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = stateClosed
	c.failure = ErrClosed
	if s := c.sess; s != nil {
		c.sess = nil
		s.shutdown(ErrClosed)
	}
	return nil
}

// Reconnect allows a failed or closed Conn to dial again on the next Submit.
// It has no effect on a healthy Conn.
func (c *Conn) Reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateFailed || c.state == stateClosed {
		c.state = stateIdle
		c.failure = nil
	}
}

// Pending returns the number of commands waiting for a reply.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return 0
	}
	return c.sess.len()
}

// Err returns the reason the Conn stopped accepting commands, or nil.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}
