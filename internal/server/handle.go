// Package server implements the connection manager: it accepts one stream
// connection per mapping agent and runs a dedicated worker for each.
// See doc.go for complete package documentation.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle stage of a client handle.
type State int32

const (
	StateConnecting State = iota
	StateRunning
	StateClosedClean
	StateClosedError
)

// String returns the state's name as reported by the admin API.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateClosedClean:
		return "closed"
	case StateClosedError:
		return "error"
	default:
		return "unknown"
	}
}

// Closed reports whether the state is terminal.
func (s State) Closed() bool {
	return s == StateClosedClean || s == StateClosedError
}

// Message is anything with a fixed-size wire buffer. Reads fill the buffer
// completely; writes send it completely.
type Message interface {
	Bytes() []byte
}

// ClientInfo is a point-in-time snapshot of a handle.
type ClientInfo struct {
	ConnectedAt time.Time
	Remote      string
	Name        string
	Err         string
	ID          int
	State       State
	Healthy     bool
}

// Handle is the server-side state of one live connection.
//
// The health flag, the error and the name are written only by the handle's own worker
// and may be read concurrently by the server. The termination context is
// owned by the server; a handle only observes it.
type Handle struct {
	connectedAt time.Time
	terminate   context.Context
	conn        net.Conn
	errMu       sync.Mutex
	err         error
	name        string
	ioTimeout   time.Duration
	id          int
	ok          atomic.Bool
	state       atomic.Int32
}

func newHandle(id int, conn net.Conn, terminate context.Context, ioTimeout time.Duration) *Handle {
	h := &Handle{
		id:          id,
		conn:        conn,
		terminate:   terminate,
		ioTimeout:   ioTimeout,
		connectedAt: time.Now(),
	}
	h.ok.Store(true)
	h.state.Store(int32(StateConnecting))
	return h
}

// ClientID returns the identifier assigned at accept time.
func (h *Handle) ClientID() int { return h.id }

// ConnectionOK reports whether every read and write so far has succeeded.
func (h *Handle) ConnectionOK() bool { return h.ok.Load() }

// State returns the handle's lifecycle stage.
func (h *Handle) State() State { return State(h.state.Load()) }

// Terminating reports whether the server has begun shutting down.
func (h *Handle) Terminating() bool { return h.terminate.Err() != nil }

// Context returns the server's termination context.
func (h *Handle) Context() context.Context { return h.terminate }

// RemoteAddr returns the peer address, or "" if unknown.
func (h *Handle) RemoteAddr() string {
	if a := h.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Err returns the I/O error that closed the connection, if any.
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

// SetName records the name the peer introduced itself with.
func (h *Handle) SetName(name string) {
	h.errMu.Lock()
	h.name = name
	h.errMu.Unlock()
}

// Name returns the name set with SetName, or "".
func (h *Handle) Name() string {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.name
}

// Info returns a snapshot of the handle.
func (h *Handle) Info() ClientInfo {
	info := ClientInfo{
		ID:          h.id,
		Remote:      h.RemoteAddr(),
		Name:        h.Name(),
		State:       h.State(),
		Healthy:     h.ConnectionOK(),
		ConnectedAt: h.connectedAt,
	}
	if err := h.Err(); err != nil {
		info.Err = err.Error()
	}
	return info
}

// ReadMessage fills msg from the connection. It blocks until the whole
// message has arrived, an I/O error occurs, or the server terminates, and
// returns true only in the first case.
func (h *Handle) ReadMessage(msg Message) bool {
	return h.exchange(msg.Bytes(), func(buf []byte) error {
		_, err := io.ReadFull(h.conn, buf)
		return err
	})
}

// WriteMessage sends msg on the connection with the same contract as
// ReadMessage.
func (h *Handle) WriteMessage(msg Message) bool {
	return h.exchange(msg.Bytes(), func(buf []byte) error {
		_, err := h.conn.Write(buf)
		return err
	})
}

// pastDeadline unblocks any pending I/O when applied to a connection.
var pastDeadline = time.Unix(1, 0)

func (h *Handle) exchange(buf []byte, op func([]byte) error) bool {
	if !h.ok.Load() {
		return false
	}
	if h.terminate.Err() != nil {
		h.ok.Store(false)
		return false
	}

	deadline := time.Time{}
	if h.ioTimeout > 0 {
		deadline = time.Now().Add(h.ioTimeout)
	}
	_ = h.conn.SetDeadline(deadline)

	// Termination forces the deadline into the past so the blocked call
	// returns immediately instead of waiting on the peer.
	stop := context.AfterFunc(h.terminate, func() {
		_ = h.conn.SetDeadline(pastDeadline)
	})
	err := op(buf)
	stop()

	if h.terminate.Err() != nil {
		h.ok.Store(false)
		return false
	}
	if err != nil {
		h.Fail(err)
		return false
	}
	return true
}

// Fail marks the connection unhealthy. Handlers call it for protocol
// violations; the worker then stops iterating and closes the connection.
func (h *Handle) Fail(err error) {
	h.errMu.Lock()
	// A peer that hangs up between messages is a clean close.
	if !errors.Is(err, io.EOF) {
		h.err = err
	}
	h.errMu.Unlock()
	h.ok.Store(false)
}

func (h *Handle) setState(s State) {
	h.state.Store(int32(s))
}

// finish moves the handle to its terminal state.
func (h *Handle) finish() {
	if h.Err() != nil {
		h.setState(StateClosedError)
		return
	}
	h.setState(StateClosedClean)
}
