// Package coordinator wires the connection manager, scene registry and
// collaborative scheduler into one process.
// See doc.go for complete package documentation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dreamware/mapsync/internal/collab"
	"github.com/dreamware/mapsync/internal/config"
	"github.com/dreamware/mapsync/internal/mapping"
	"github.com/dreamware/mapsync/internal/scene"
	"github.com/dreamware/mapsync/internal/server"
	"github.com/dreamware/mapsync/internal/storage"
)

// Options supplies the collaborators the configuration cannot describe.
type Options struct {
	// Store overrides the store selected by the configuration.
	Store storage.SampleStore

	// Relocalisers builds a relocaliser for every calibrated scene. Nil
	// leaves scenes without one, so no pair can ever be aligned.
	Relocalisers mapping.RelocaliserFactory
}

// Coordinator owns every long-running component of a mapsync process.
//
// Lifecycle:
//
//	c, _ := New(cfg, Options{})
//	c.Start(ctx)   // restore samples, listen, spawn loops
//	...
//	c.Stop()       // stop loops, drain clients, close store
type Coordinator struct {
	cfg       *config.Config
	store     storage.SampleStore
	registry  *scene.Registry
	scheduler *collab.Scheduler
	server    *server.Server
	monitor   *server.Monitor
	admin     *http.Server
	adminLn   net.Listener
	closeFn   func() error // Releases a store opened by New
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New builds a coordinator from cfg. It connects to Redis when cfg names
// an address and no store is supplied.
func New(cfg *config.Config, opts Options) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Coordinator{cfg: cfg, store: opts.Store}
	if c.store == nil {
		store, closeFn, err := openStore(cfg.Redis)
		if err != nil {
			return nil, err
		}
		c.store, c.closeFn = store, closeFn
	}

	sceneOpts := cfg.SceneOptions()
	sceneOpts.Store = c.store
	c.registry = scene.NewRegistry(sceneOpts)

	scheduler, err := collab.NewScheduler(c.registry, cfg.CollabConfig())
	if err != nil {
		c.closeStore()
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	c.scheduler = scheduler

	c.server = server.New(mapping.NewHandlerFactory(c.registry, mapping.HandlerOptions{
		Relocalisers: opts.Relocalisers,
		MaxPixels:    cfg.MaxFramePixels,
	}),
		server.Options{IOTimeout: cfg.IOTimeout})
	c.monitor = server.NewMonitor(c.server, cfg.ReapInterval)
	c.monitor.SetOnClosed(c.clientClosed)

	return c, nil
}

// openStore returns a Redis store when an address is configured and an
// in-memory store otherwise.
func openStore(rc config.RedisConfig) (storage.SampleStore, func() error, error) {
	if rc.Addr == "" {
		return storage.NewMemoryStore(), nil, nil
	}

	rs, err := storage.NewRedisStore(&redis.Options{Addr: rc.Addr, DB: rc.DB}, rc.Prefix)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		_ = rs.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis at %s: %w", rc.Addr, err)
	}
	log.Printf("[Coordinator] Persisting samples to Redis at %s (prefix %q)", rc.Addr, rc.Prefix)
	return rs, rs.Close, nil
}

// clientClosed runs on the monitor goroutine for every reaped client. The
// handler has already removed its scene by then. Scenes are named after
// agents, so removing one here could drop the scene of a reconnected agent.
func (c *Coordinator) clientClosed(info server.ClientInfo) {
	name := info.Name
	if name == "" {
		name = "(unnamed)"
	}
	if info.Err != "" {
		log.Printf("[Coordinator] Client %d (%s) from %s closed: %s", info.ID, name, info.Remote, info.Err)
		return
	}
	log.Printf("[Coordinator] Client %d (%s) from %s disconnected", info.ID, name, info.Remote)
}

// Start restores persisted samples, binds the agent and admin listeners
// and launches the accept loop, the monitor and the scheduler. The
// components run until ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	n, err := c.registry.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore samples: %w", err)
	}
	if n > 0 {
		log.Printf("[Coordinator] Restored %d relative-pose samples", n)
	}

	if err := c.server.Listen(c.cfg.Listen); err != nil {
		return err
	}
	if c.cfg.Admin != "" {
		ln, err := net.Listen("tcp", c.cfg.Admin)
		if err != nil {
			c.server.Shutdown()
			return fmt.Errorf("admin listen on %s: %w", c.cfg.Admin, err)
		}
		c.adminLn = ln
		c.admin = &http.Server{
			Handler:           c.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		if err := c.server.Serve(ctx); err != nil {
			log.Printf("[Coordinator] Agent server stopped: %v", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		c.monitor.Start(ctx)
	}()
	go func() {
		defer c.wg.Done()
		c.scheduler.Run(ctx, c.cfg.Scheduler.TickPeriod)
	}()

	if c.admin != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			log.Printf("[Coordinator] Admin API listening on %s", c.adminLn.Addr())
			if err := c.admin.Serve(c.adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[Coordinator] Admin API stopped: %v", err)
			}
		}()
	}

	log.Printf("[Coordinator] Started: agents on %s", c.server.Addr())
	return nil
}

// Stop shuts every component down and waits for them. It is safe to call
// more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.scheduler.Stop()
		c.server.Shutdown()
		if c.admin != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.admin.Shutdown(ctx)
			cancel()
		}
		c.wg.Wait()
		// Collect the handles closed by the shutdown.
		c.monitor.Sweep()
		c.closeStore()
		log.Println("[Coordinator] Stopped")
	})
}

func (c *Coordinator) closeStore() {
	if c.closeFn == nil {
		return
	}
	if err := c.closeFn(); err != nil {
		log.Printf("[Coordinator] Closing sample store: %v", err)
	}
}

// AgentAddr returns the bound agent address, or nil before Start.
func (c *Coordinator) AgentAddr() net.Addr { return c.server.Addr() }

// AdminAddr returns the bound admin address, or nil when disabled.
func (c *Coordinator) AdminAddr() net.Addr {
	if c.adminLn == nil {
		return nil
	}
	return c.adminLn.Addr()
}

// Registry returns the scene registry the agents' handlers feed.
func (c *Coordinator) Registry() *scene.Registry { return c.registry }

// Scheduler returns the collaborative scheduler.
func (c *Coordinator) Scheduler() *collab.Scheduler { return c.scheduler }

// Server returns the agent connection manager.
func (c *Coordinator) Server() *server.Server { return c.server }
