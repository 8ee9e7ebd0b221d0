package ioloop

import (
	"sync"
	"testing"
	"time"

	"github.com/kestrelio/ioflow/iotask"
)

func TestGroupRoundRobinDistributesAcrossLoops(t *testing.T) {
	g := NewGroup(4, Options{})
	defer func() {
		g.Stop()
		g.Join()
		g.Close()
	}()

	seen := make(map[*Loop]bool)
	for i := 0; i < 8; i++ {
		seen[g.Next()] = true
	}
	if len(seen) != 4 {
		t.Fatalf("expected round-robin to touch all 4 loops, touched %d", len(seen))
	}
}

func TestGroupEveryLoopRuns(t *testing.T) {
	g := NewGroup(3, Options{})
	defer func() {
		g.Stop()
		g.Join()
		g.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(g.Len())
	for _, l := range g.Loops() {
		l := l
		task := iotask.NewTask(func(iotask.Status) {
			wg.Done()
		}, nil)
		if !l.Post(task) {
			t.Fatal("Post failed")
		}
	}
	waitOrTimeout(t, &wg, 2*time.Second)
}
