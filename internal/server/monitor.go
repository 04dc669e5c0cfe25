package server

import (
	"context"
	"log"
	"sync"
	"time"
)

// Monitor periodically garbage-collects closed client handles out-of-band
// from the per-client workers.
//
// Workers never remove themselves from the server; they only reach a
// terminal state. The monitor sweeps the server on a fixed interval, drops
// closed handles, and reports each one through the OnClosed callback so
// the owner can release whatever it associated with the client.
//
// Thread-safe: Start, Stop and Sweep may be called from any goroutine.
type Monitor struct {
	server   *Server
	onClosed func(ClientInfo)   // Invoked for each reaped handle
	ctx      context.Context    // Internal context for Stop
	cancel   context.CancelFunc // Cancels ctx
	wg       sync.WaitGroup     // Tracks the Start goroutine
	interval time.Duration      // Time between sweeps
	mu       sync.Mutex         // Protects onClosed and reaped
	reaped   int                // Total handles removed so far
}

// NewMonitor creates a monitor that sweeps s every interval.
//
// Example:
//
//	monitor := NewMonitor(srv, 500*time.Millisecond)
//	monitor.SetOnClosed(func(c ClientInfo) { registry.RemoveScene(sceneID(c.ID)) })
//	go monitor.Start(ctx)
func NewMonitor(s *Server, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		server:   s,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetOnClosed sets the callback invoked for each handle removed by a sweep.
// The callback runs on the monitor's goroutine.
func (m *Monitor) SetOnClosed(callback func(ClientInfo)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClosed = callback
}

// Start sweeps on every tick until ctx is cancelled or Stop is called.
// It blocks; run it in its own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Printf("[Monitor] Started with interval %v", m.interval)

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			m.Sweep()
			log.Println("[Monitor] Stopping due to context cancellation")
			return
		case <-m.ctx.Done():
			m.Sweep()
			log.Println("[Monitor] Stopping due to internal cancellation")
			return
		}
	}
}

// Stop cancels the monitor and waits for Start to return.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Sweep removes closed handles now and returns how many it removed.
func (m *Monitor) Sweep() int {
	closed := m.server.Reap()

	m.mu.Lock()
	cb := m.onClosed
	m.reaped += len(closed)
	m.mu.Unlock()

	for _, c := range closed {
		log.Printf("[Monitor] Removed client %d (%s)", c.ID, c.State)
		if cb != nil {
			cb(c)
		}
	}
	return len(closed)
}

// Reaped returns the total number of handles removed since creation.
func (m *Monitor) Reaped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reaped
}
