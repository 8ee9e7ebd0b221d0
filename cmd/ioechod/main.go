// Command ioechod is a minimal TCP (optionally TLS) echo server wiring
// ioruntime into a real listener, grounded on examples/echo/main.go's
// flag-parse/Start/signal-wait/Close shape and reactor_echo/main.go's
// logged-accept/echo loop, generalized from the WebSocket-specific
// listener and frame codec to a plain iochannel.Handler that echoes
// whatever application data arrives.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kestrelio/ioflow/bootstrap"
	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/iochannel"
	"github.com/kestrelio/ioflow/iohandler/stats"
	"github.com/kestrelio/ioflow/iohandler/tls"
	"github.com/kestrelio/ioflow/ioruntime"
)

func main() {
	host := flag.String("host", "0.0.0.0", "listen host")
	port := flag.Int("port", 9001, "listen port")
	numLoops := flag.Int("loops", 0, "number of event loops (0 = NumCPU)")
	certPath := flag.String("cert", "", "TLS certificate path; empty disables TLS")
	keyPath := flag.String("key", "", "TLS key path; required if -cert is set")
	statsInterval := flag.Duration("stats-interval", 5*time.Second, "statistics flush interval")
	flag.Parse()

	cfg := ioruntime.DefaultConfig()
	cfg.NumLoops = *numLoops

	rt, err := ioruntime.New(cfg)
	if err != nil {
		log.Fatalf("ioechod: failed to create runtime: %v", err)
	}
	if err := rt.Start(); err != nil {
		log.Fatalf("ioechod: failed to start runtime: %v", err)
	}
	defer rt.Shutdown()

	var tlsOpts *tls.Options
	if *certPath != "" {
		cert, err := tls.LoadKeyPairFromPath(*certPath, *keyPath)
		if err != nil {
			log.Fatalf("ioechod: failed to load TLS identity: %v", err)
		}
		tlsOpts = &tls.Options{Identity: cert, MinimumVersion: tls.MinVersionTLS12}
	}

	var connCount int32
	destroyed := make(chan struct{})

	ln, err := rt.Server().Listen(bootstrap.ListenOptions{
		Host:       *host,
		Port:       *port,
		TLSOptions: tlsOpts,
		Stats: &bootstrap.StatsOptions{
			Interval: *statsInterval,
			OnFlush: func(s stats.Snapshot) {
				log.Printf("ioechod: stats read=%d written=%d tls=%s", s.BytesRead, s.BytesWritten, s.TLSState)
			},
		},
		IncomingCallback: func(ch *iochannel.Channel, code ioerr.Code) {
			if code != ioerr.OK {
				log.Printf("ioechod: incoming setup failed: %s", code)
				return
			}
			id := atomic.AddInt32(&connCount, 1)
			log.Printf("ioechod: connection %d established", id)
			ch.AppendHandler(&echoHandler{id: id})
		},
		ShutdownCallback: func(code ioerr.Code) {
			log.Printf("ioechod: connection shut down: %s", code)
		},
		DestroyCallback: func() { close(destroyed) },
	})
	if err != nil {
		log.Fatalf("ioechod: listen failed: %v", err)
	}

	log.Printf("ioechod: listening on %s", ln.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("ioechod: shutdown signal received, closing listener")
	if err := ln.Close(); err != nil {
		log.Printf("ioechod: listener close error: %v", err)
	}
	<-destroyed

	log.Println("ioechod: shutdown complete")
}

// echoHandler is the user-facing slot installed on each accepted
// channel: it writes back whatever application data arrives.
type echoHandler struct {
	id int32
}

func (h *echoHandler) OnReadMessage(s *iochannel.Slot, msg *iochannel.Message) {
	s.SendWrite(msg)
}

func (h *echoHandler) OnWriteMessage(s *iochannel.Slot, msg *iochannel.Message) {
	msg.Release(ioerr.OK)
}

func (h *echoHandler) IncrementReadWindow(s *iochannel.Slot, delta int) {}

func (h *echoHandler) Shutdown(s *iochannel.Slot, direction iochannel.Direction, cause ioerr.Code) {
	s.ShutdownComplete(direction)
}

func (h *echoHandler) InitialWindowSize() int { return 65536 }

func (h *echoHandler) MessageOverhead() int { return 0 }

func (h *echoHandler) OnAttached(s *iochannel.Slot) {}

func (h *echoHandler) OnDetached(s *iochannel.Slot) {
	log.Printf("ioechod: connection %d detached", h.id)
}
