package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// ClientHandler runs the protocol for one connection. The server calls
// RunPre once, RunIter repeatedly while the connection is healthy and the
// server is not terminating, then RunPost once. RunIter must be safe to
// call in a tight loop; it should block in ReadMessage or WriteMessage
// rather than spin.
type ClientHandler interface {
	ClientHandle() *Handle
	RunPre()
	RunIter()
	RunPost()
}

// HandlerFactory builds the protocol handler for a freshly accepted
// connection.
type HandlerFactory func(h *Handle) ClientHandler

// Base provides no-op RunPre and RunPost for handlers that embed it.
type Base struct {
	*Handle
}

// ClientHandle returns the embedded handle.
func (b Base) ClientHandle() *Handle { return b.Handle }

// RunPre does nothing.
func (b Base) RunPre() {}

// RunPost does nothing.
func (b Base) RunPost() {}

// Options tunes a Server.
type Options struct {
	// IOTimeout bounds each individual read or write. Zero waits for the
	// peer indefinitely (termination still interrupts).
	IOTimeout time.Duration
}

type client struct {
	handler ClientHandler
	handle  *Handle
	done    chan struct{}
}

// Server accepts stream connections and runs one worker per client.
//
// Thread-safe: all methods may be called concurrently. Shutdown is
// cooperative: it cancels the termination context every blocked read and
// write observes, then waits for the workers to finish.
type Server struct {
	listener net.Listener
	factory  HandlerFactory
	ctx      context.Context    // Termination flag shared by all handles
	cancel   context.CancelFunc // Sets the termination flag
	clients  map[int]*client
	wg       sync.WaitGroup
	opts     Options
	mu       sync.Mutex
	nextID   int
}

// New creates a server that builds handlers with factory.
func New(factory HandlerFactory, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		factory: factory,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[int]*client),
	}
}

// Listen binds a TCP listener. Use ":0" for a random port.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or Shutdown is called.
// It returns nil on shutdown and the accept error otherwise.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("server: Serve called before Listen")
	}

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	log.Printf("[Server] Accepting agents on %s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.Accept(conn)
	}
}

// Accept starts a worker for an already-established connection and returns
// its handle, or nil once the server is terminating. Serve calls it for
// every accepted connection; tests may call it directly with one end of a
// net.Pipe.
func (s *Server) Accept(conn net.Conn) *Handle {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	id := s.nextID
	s.nextID++
	h := newHandle(id, conn, s.ctx, s.opts.IOTimeout)
	c := &client{handle: h, done: make(chan struct{})}
	c.handler = s.factory(h)
	s.clients[id] = c
	s.wg.Add(1)
	s.mu.Unlock()

	log.Printf("[Server] Client %d connected from %s", id, h.RemoteAddr())
	go s.run(c)
	return h
}

// run is the per-client worker. It owns the connection for its lifetime.
func (s *Server) run(c *client) {
	defer s.wg.Done()
	defer close(c.done)

	h := c.handle
	h.setState(StateRunning)

	c.handler.RunPre()
	for h.ConnectionOK() && s.ctx.Err() == nil {
		c.handler.RunIter()
	}
	c.handler.RunPost()

	_ = h.conn.Close()
	h.finish()

	if err := h.Err(); err != nil {
		log.Printf("[Server] Client %d closed with error: %v", h.id, err)
	} else {
		log.Printf("[Server] Client %d disconnected", h.id)
	}
}

// Clients returns snapshots of every tracked handle, ordered by ID.
// Closed handles remain listed until Reap removes them.
func (s *Server) Clients() []ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.handle.Info())
	}
	slices.SortFunc(out, byID)
	return out
}

// Reap forgets handles whose workers have exited and returns their final
// snapshots.
func (s *Server) Reap() []ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reaped []ClientInfo
	for id, c := range s.clients {
		select {
		case <-c.done:
			reaped = append(reaped, c.handle.Info())
			delete(s.clients, id)
		default:
		}
	}
	slices.SortFunc(reaped, byID)
	return reaped
}

func byID(a, b ClientInfo) int { return a.ID - b.ID }

// Shutdown sets the termination flag, stops accepting, and waits for every
// worker to return. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.cancel()
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Terminated reports whether Shutdown has been called.
func (s *Server) Terminated() bool {
	return s.ctx.Err() != nil
}
