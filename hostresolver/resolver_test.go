package hostresolver

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestSystemResolverResolvesLocalhost(t *testing.T) {
	r := SystemResolver{}
	done := make(chan struct{})
	var addrs []net.IPAddr
	var resolveErr error

	r.Resolve(context.Background(), "localhost", func(a []net.IPAddr, err error) {
		addrs = a
		resolveErr = err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("resolve never called back")
	}

	if resolveErr != nil {
		t.Fatalf("resolve localhost: %v", resolveErr)
	}
	if len(addrs) == 0 {
		t.Fatal("expected at least one address for localhost")
	}
}

func TestSystemResolverReportsLookupFailure(t *testing.T) {
	r := SystemResolver{}
	done := make(chan struct{})
	var resolveErr error

	r.Resolve(context.Background(), "this-host-does-not-exist.invalid", func(a []net.IPAddr, err error) {
		resolveErr = err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("resolve never called back")
	}

	if resolveErr == nil {
		t.Fatal("expected a lookup error for an invalid host")
	}
}
