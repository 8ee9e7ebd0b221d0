package stats

import (
	"testing"
	"time"

	"github.com/kestrelio/ioflow/ioloop"
	"github.com/kestrelio/ioflow/iotask"
)

func TestHandlerFlushesPeriodically(t *testing.T) {
	loop := ioloop.New(ioloop.Options{})
	go loop.Run()
	defer func() {
		loop.Stop()
		loop.Join()
		loop.Close()
	}()

	flushes := make(chan Snapshot, 8)
	setupDone := make(chan struct{})
	var h *Handler
	loop.Post(iotask.NewTask(func(status iotask.Status) {
		if status == iotask.StatusCanceled {
			return
		}
		h = New(loop, 10*time.Millisecond, func(snap Snapshot) {
			flushes <- snap
		})
		close(setupDone)
	}, nil))
	<-setupDone

	h.RecordBytesRead(100)
	h.RecordBytesWritten(42)
	h.RecordTLSStatus(TLSStatusSuccess)

	select {
	case snap := <-flushes:
		if snap.BytesRead != 100 || snap.BytesWritten != 42 || snap.TLSState != TLSStatusSuccess {
			t.Fatalf("unexpected snapshot: %+v", snap)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("flush never fired")
	}

	loop.Post(iotask.NewTask(func(status iotask.Status) {
		if status == iotask.StatusCanceled {
			return
		}
		h.Stop()
	}, nil))

	// Drain any in-flight flush triggered before Stop took effect, then
	// confirm no further flush arrives.
	for {
		select {
		case <-flushes:
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	select {
	case snap := <-flushes:
		t.Fatalf("unexpected flush after Stop: %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerSnapshotWithoutWaitingForFlush(t *testing.T) {
	loop := ioloop.New(ioloop.Options{})
	go loop.Run()
	defer func() {
		loop.Stop()
		loop.Join()
		loop.Close()
	}()

	setupDone := make(chan struct{})
	var h *Handler
	loop.Post(iotask.NewTask(func(status iotask.Status) {
		if status == iotask.StatusCanceled {
			return
		}
		h = New(loop, time.Hour, func(Snapshot) {})
		close(setupDone)
	}, nil))
	<-setupDone

	h.RecordBytesRead(7)
	h.RecordTLSStatus(TLSStatusNegotiating)

	snap := h.Snapshot()
	if snap.BytesRead != 7 || snap.TLSState != TLSStatusNegotiating {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
