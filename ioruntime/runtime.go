// Package ioruntime is the top-level facade: it aggregates a loop group
// with a client and a server bootstrap behind one Config/New/Shutdown
// lifecycle, grounded on facade/hioload.go's HioloadWS — stripped of
// the WebSocket-specific transport/session/executor/poller/affinity
// subsystems neither the spec nor this module needs, keeping only the
// shape (immutable Config with defaults, started flag under a mutex,
// dependency-ordered Shutdown).
package ioruntime

import (
	"fmt"
	"sync"
	"time"

	"github.com/kestrelio/ioflow/bootstrap"
	"github.com/kestrelio/ioflow/hostresolver"
	"github.com/kestrelio/ioflow/internal/iolog"
	"github.com/kestrelio/ioflow/ioloop"
)

var log = iolog.New("ioruntime")

// Config holds parameters immutable for the lifetime of a Runtime.
type Config struct {
	// NumLoops is the size of the underlying ioloop.Group. Zero means
	// runtime.NumCPU(), per ioloop.NewGroup's own default.
	NumLoops int
	// Clock overrides the group's loops' time source; nil means
	// ioloop.SystemClock.
	Clock ioloop.Clock
	// InboxCapacity bounds each loop's cross-thread task inbox.
	InboxCapacity int
	// Resolver overrides host resolution for the client bootstrap; nil
	// means hostresolver.SystemResolver.
	Resolver hostresolver.Resolver
	// ShutdownTimeout bounds how long Shutdown waits for every loop's
	// goroutine to exit before giving up on a graceful Join.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sane defaults for a Runtime.
func DefaultConfig() *Config {
	return &Config{
		NumLoops:        0,
		InboxCapacity:   1024,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Runtime is the facade aggregating a loop group and both bootstraps.
type Runtime struct {
	config *Config
	group  *ioloop.Group
	client *bootstrap.ClientBootstrap
	server *bootstrap.ServerBootstrap

	mu      sync.Mutex
	started bool
}

// New constructs a Runtime's loop group and bootstraps but does not
// start accepting work; call Start before issuing any Connect/Listen.
func New(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ShutdownTimeout <= 0 {
		return nil, fmt.Errorf("ioruntime: ShutdownTimeout must be positive")
	}

	group := ioloop.NewGroup(cfg.NumLoops, ioloop.Options{
		Clock:         cfg.Clock,
		InboxCapacity: cfg.InboxCapacity,
	})

	r := &Runtime{
		config: cfg,
		group:  group,
		client: bootstrap.NewClient(group, cfg.Resolver),
		server: bootstrap.NewServer(group),
	}
	return r, nil
}

// Start marks the runtime ready for use. The loop group's goroutines
// are already running by the time New returns; Start exists so the
// started/Shutdown bookkeeping mirrors the teacher's own Start/Stop
// pair, and so a future Runtime extension has a natural place to pin
// threads or enable metrics without changing New's signature.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	r.started = true
	return nil
}

// Shutdown stops every loop in dependency order: request stop, wait for
// each loop's goroutine to exit (bounded by ShutdownTimeout), then
// close the reactors. Calling Shutdown on a non-started runtime is a
// no-op, matching the teacher's Stop().
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.group.Stop()

	done := make(chan struct{})
	go func() {
		r.group.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.config.ShutdownTimeout):
		log.Printf("shutdown timed out after %s waiting for loops to join", r.config.ShutdownTimeout)
	}

	err := r.group.Close()
	r.started = false
	return err
}

// Group returns the underlying loop group, for callers that need direct
// access to a specific Loop (e.g. to schedule a recurring task).
func (r *Runtime) Group() *ioloop.Group { return r.group }

// Client returns the client bootstrap for outbound connections.
func (r *Runtime) Client() *bootstrap.ClientBootstrap { return r.client }

// Server returns the server bootstrap for inbound listeners.
func (r *Runtime) Server() *bootstrap.ServerBootstrap { return r.server }
