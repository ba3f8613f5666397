package testutil

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Reply builders for ScriptedServer handlers.
func StatusReply(s string) string { return "+" + s + "\r\n" }
func ErrorReply(s string) string  { return "-" + s + "\r\n" }
func IntReply(n int64) string     { return ":" + strconv.FormatInt(n, 10) + "\r\n" }
func BulkReply(s string) string   { return "$" + strconv.Itoa(len(s)) + "\r\n" + s + "\r\n" }
func NilReply() string            { return "$-1\r\n" }

// ArrayReply concatenates already encoded elements.
func ArrayReply(elems ...string) string {
	return "*" + strconv.Itoa(len(elems)) + "\r\n" + strings.Join(elems, "")
}

// Handler answers one command with raw RESP bytes. An empty answer leaves the
// command unanswered.
type Handler func(args []string) string

// ScriptedServer is a RESP listener whose answers are scripted by a Handler.
// It can split replies into small writes and drop connections while
// commands are in flight.
type ScriptedServer struct {
	t       *testing.T
	ln      net.Listener
	handler Handler

	mu       sync.Mutex
	received [][]string
	conns    []net.Conn
	accepted int
	chunk    int
	arrived  chan struct{}
}

// NewScriptedServer starts a server on a loopback port. It is closed when
// the test ends.
func NewScriptedServer(t *testing.T, h Handler) *ScriptedServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	s := &ScriptedServer{t: t, ln: ln, handler: h, arrived: make(chan struct{}, 1)}
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Addr is the host:port to dial.
func (s *ScriptedServer) Addr() string {
	return s.ln.Addr().String()
}

// SetChunkSize makes the server write replies n bytes at a time.
func (s *ScriptedServer) SetChunkSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunk = n
}

// Received returns every command received so far, across connections.
func (s *ScriptedServer) Received() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.received...)
}

// Accepted returns how many connections were accepted.
func (s *ScriptedServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// WaitForCommands blocks until n commands have arrived.
func (s *ScriptedServer) WaitForCommands(n int) {
	s.t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		s.mu.Lock()
		got := len(s.received)
		s.mu.Unlock()
		if got >= n {
			return
		}
		select {
		case <-s.arrived:
		case <-deadline:
			s.t.Fatalf("timed out waiting for %d commands, got %d", n, got)
		}
	}
}

// DropConnections closes every open connection without answering.
func (s *ScriptedServer) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Close stops listening and drops every connection.
func (s *ScriptedServer) Close() {
	s.ln.Close()
	s.DropConnections()
}

func (s *ScriptedServer) accept() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.accepted++
		s.mu.Unlock()
		go s.serve(c)
	}
}

func (s *ScriptedServer) serve(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, args)
		chunk := s.chunk
		s.mu.Unlock()
		select {
		case s.arrived <- struct{}{}:
		default:
		}

		reply := s.handler(args)
		if reply == "" {
			continue
		}
		if err := writeChunked(c, []byte(reply), chunk); err != nil {
			return
		}
	}
}

func writeChunked(w io.Writer, b []byte, chunk int) error {
	if chunk <= 0 {
		chunk = len(b)
	}
	for len(b) > 0 {
		n := min(chunk, len(b))
		if _, err := w.Write(b[:n]); err != nil {
			return err
		}
		b = b[n:]
		if len(b) > 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

// readCommand reads one RESP array of bulk strings.
func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, fmt.Errorf("expected array, got %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, fmt.Errorf("bad array length %q", line)
	}

	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(line, "$") {
			return nil, fmt.Errorf("expected bulk string, got %q", line)
		}
		size, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("bad bulk length %q", line)
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, "\r\n"), nil
}

// EchoHandler answers PING with PONG, ECHO with its argument and everything
// else with OK.
func EchoHandler(args []string) string {
	switch strings.ToUpper(args[0]) {
	case "PING":
		return StatusReply("PONG")
	case "ECHO":
		return BulkReply(args[1])
	default:
		return StatusReply("OK")
	}
}
