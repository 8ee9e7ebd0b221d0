// File: iohandler/tls/handler.go
//
// The TLS channel handler of §4.5: a middle handler with the same
// capability set as any other (§9 "handler composition... no
// inheritance"), sitting between the terminal socket handler and the
// user-facing handler. Grounded on protocol/handshake.go for the
// phase-state-machine idiom (explicit named phases, one method per
// transition) rather than for its HTTP-upgrade content, which this
// handler has no use for.
package tls

import (
	"time"

	"github.com/kestrelio/ioflow/internal/iolog"
	"github.com/kestrelio/ioflow/ioerr"
	"github.com/kestrelio/ioflow/iobuf"
	"github.com/kestrelio/ioflow/iochannel"
	"github.com/kestrelio/ioflow/iohandler/stats"
	"github.com/kestrelio/ioflow/iotask"

	"sync"
)

var log = iolog.New("iohandler/tls")

const (
	defaultWindow  = 64 * 1024
	recordOverhead = 512
)

// Phase is the TLS handler's own state machine, independent of the
// channel-wide shutdown state machine it sits inside.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseNegotiating
	PhaseSucceeded
	PhaseFailed
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseNegotiating:
		return "negotiating"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	case PhaseShuttingDown:
		return "shutting_down"
	default:
		return "not_started"
	}
}

// Handler is the middle iochannel.Handler performing the TLS handshake
// and, once succeeded, transparent encrypt/decrypt passthrough.
type Handler struct {
	role role
	opts Options
	pool *iobuf.Pool

	onNegotiated func(err ioerr.Code)

	mu sync.Mutex

	phase    Phase
	provider Provider

	pendingWrites     []byte // user plaintext buffered while negotiating
	bufferedPlaintext []byte // decrypted bytes not yet emitted upstream
	window            int    // remaining bytes this handler may emit upstream

	negotiationTask *iotask.Task

	recorder stats.Recorder // optional §4.7 observer; nil unless SetRecorder was called
}

// SetRecorder attaches a statistics observer that receives this
// handler's negotiation-status transitions. Per §4.7, call it only from
// the channel's loop before the handler is attached.
func (h *Handler) SetRecorder(r stats.Recorder) {
	h.mu.Lock()
	h.recorder = r
	h.mu.Unlock()
}

// NewClient constructs a client-role TLS handler. onNegotiated, if
// non-nil, fires exactly once: with ioerr.OK on successful handshake,
// or the failure/timeout code otherwise.
func NewClient(opts Options, pool *iobuf.Pool, onNegotiated func(err ioerr.Code)) *Handler {
	return &Handler{role: roleClient, opts: opts, pool: pool, onNegotiated: onNegotiated, window: defaultWindow}
}

// NewServer constructs a server-role TLS handler (waits for an incoming
// ClientHello rather than initiating one).
func NewServer(opts Options, pool *iobuf.Pool, onNegotiated func(err ioerr.Code)) *Handler {
	return &Handler{role: roleServer, opts: opts, pool: pool, onNegotiated: onNegotiated, window: defaultWindow}
}

func (h *Handler) InitialWindowSize() int { return defaultWindow }
func (h *Handler) MessageOverhead() int   { return recordOverhead }

func (h *Handler) OnAttached(s *iochannel.Slot) {}

func (h *Handler) OnDetached(s *iochannel.Slot) {
	h.mu.Lock()
	task := h.negotiationTask
	h.negotiationTask = nil
	h.mu.Unlock()
	if task != nil {
		s.LoopFor().Cancel(task)
	}
}

// StartNegotiation arms negotiation explicitly rather than waiting for
// the first readable event or first user write — this is
// setup_client_tls from §4.6 step 5: a client speaks first in the TLS
// handshake, so bootstrap must kick ensureStarted itself instead of
// waiting for data that will never arrive without it.
func (h *Handler) StartNegotiation(s *iochannel.Slot) {
	h.ensureStarted(s)
}

// ensureStarted implements the not_started -> negotiating transition of
// §4.5, triggered by "first readable event or first user write".
func (h *Handler) ensureStarted(s *iochannel.Slot) {
	h.mu.Lock()
	if h.phase != PhaseNotStarted {
		h.mu.Unlock()
		return
	}
	h.phase = PhaseNegotiating
	recorder := h.recorder
	h.mu.Unlock()
	if recorder != nil {
		recorder.RecordTLSStatus(stats.TLSStatusNegotiating)
	}

	notify := func() {
		s.LoopFor().Post(iotask.NewTask(func(status iotask.Status) {
			if status == iotask.StatusCanceled {
				return
			}
			h.pumpProvider(s)
		}, nil))
	}

	provider, err := newProvider(h.role, h.opts, notify)
	if err != nil {
		h.mu.Lock()
		h.phase = PhaseFailed
		h.mu.Unlock()
		if h.onNegotiated != nil {
			h.onNegotiated(ioerr.TLSErrorNegotiationFailure)
		}
		s.ChannelFor().Shutdown(ioerr.TLSErrorNegotiationFailure)
		return
	}

	h.mu.Lock()
	h.provider = provider
	h.mu.Unlock()

	if h.opts.NegotiationTimeoutMs > 0 {
		loop := s.LoopFor()
		task := iotask.NewTask(func(status iotask.Status) {
			if status == iotask.StatusCanceled {
				return
			}
			h.onNegotiationTimeout(s)
		}, nil)
		h.mu.Lock()
		h.negotiationTask = task
		h.mu.Unlock()
		loop.ScheduleFuture(task, loop.Clock().NowNanos()+int64(h.opts.NegotiationTimeoutMs)*int64(time.Millisecond))
	}
}

// pumpProvider drains whatever the provider has produced on its own
// (a handshake flight, newly decrypted application data, a state
// transition) and acts on it. It always runs on the channel's loop
// thread: ensureStarted's notify closure reaches here only via Post.
func (h *Handler) pumpProvider(s *iochannel.Slot) {
	h.mu.Lock()
	provider := h.provider
	h.mu.Unlock()
	if provider == nil {
		return
	}
	h.handleProviderResult(s, provider.Drain())
}

// handleProviderResult is shared by the Push* call sites (which already
// have a result in hand) and pumpProvider (which must Drain for one).
func (h *Handler) handleProviderResult(s *iochannel.Slot, result DrainResult) {
	if len(result.Ciphertext) > 0 {
		h.sendCiphertext(s, result.Ciphertext)
	}

	h.mu.Lock()
	phase := h.phase
	h.mu.Unlock()

	if phase == PhaseNegotiating {
		switch result.State {
		case ProviderSucceeded:
			h.onNegotiationSucceeded(s)
		case ProviderFailed:
			h.onNegotiationFailed(s)
			return
		}
	}

	if len(result.Plaintext) > 0 {
		h.deliverOrBufferPlaintext(s, result.Plaintext)
	}
}

func (h *Handler) sendCiphertext(s *iochannel.Slot, data []byte) {
	buf := h.pool.Get(len(data))
	view := buf.Slice(0, copy(buf.Bytes(), data))
	s.SendWrite(&iochannel.Message{Buffer: view, Type: iochannel.Handshake})
}

func (h *Handler) onNegotiationSucceeded(s *iochannel.Slot) {
	h.mu.Lock()
	if h.phase != PhaseNegotiating {
		h.mu.Unlock()
		return
	}
	h.phase = PhaseSucceeded
	task := h.negotiationTask
	h.negotiationTask = nil
	pending := h.pendingWrites
	h.pendingWrites = nil
	provider := h.provider
	recorder := h.recorder
	h.mu.Unlock()

	if recorder != nil {
		recorder.RecordTLSStatus(stats.TLSStatusSuccess)
	}
	if task != nil {
		s.LoopFor().Cancel(task)
	}
	if h.onNegotiated != nil {
		h.onNegotiated(ioerr.OK)
	}
	if len(pending) == 0 {
		return
	}
	cipher, err := provider.PushPlaintext(pending)
	if err != nil {
		h.failAndShutdown(s, ioerr.TLSErrorWriteFailure)
		return
	}
	if len(cipher) > 0 {
		h.sendCiphertext(s, cipher)
	}
}

func (h *Handler) onNegotiationFailed(s *iochannel.Slot) {
	h.mu.Lock()
	if h.phase != PhaseNegotiating {
		h.mu.Unlock()
		return
	}
	h.phase = PhaseFailed
	cause := h.provider.FailureCause()
	task := h.negotiationTask
	h.negotiationTask = nil
	recorder := h.recorder
	h.mu.Unlock()

	if recorder != nil {
		recorder.RecordTLSStatus(stats.TLSStatusFailure)
	}
	if task != nil {
		s.LoopFor().Cancel(task)
	}
	if h.onNegotiated != nil {
		h.onNegotiated(cause)
	}
	s.ChannelFor().Shutdown(cause)
}

func (h *Handler) onNegotiationTimeout(s *iochannel.Slot) {
	h.mu.Lock()
	if h.phase != PhaseNegotiating {
		h.mu.Unlock()
		return
	}
	h.phase = PhaseFailed
	h.negotiationTask = nil
	recorder := h.recorder
	h.mu.Unlock()

	if recorder != nil {
		recorder.RecordTLSStatus(stats.TLSStatusFailure)
	}
	if h.onNegotiated != nil {
		h.onNegotiated(ioerr.TLSNegotiationTimeout)
	}
	s.ChannelFor().Shutdown(ioerr.TLSNegotiationTimeout)
}

// deliverOrBufferPlaintext appends newly decrypted bytes to the
// backlog, then attempts to flush as much as the current window
// allows. Data that doesn't fit stays buffered until the next
// IncrementReadWindow call, or until this handler's own read-shutdown,
// which flushes it regardless of the window (the cached-plaintext race
// in §4.5).
func (h *Handler) deliverOrBufferPlaintext(s *iochannel.Slot, data []byte) {
	h.mu.Lock()
	h.bufferedPlaintext = append(h.bufferedPlaintext, data...)
	h.mu.Unlock()
	h.flushBufferedPlaintext(s)
}

func (h *Handler) flushBufferedPlaintext(s *iochannel.Slot) {
	h.mu.Lock()
	if h.window <= 0 || len(h.bufferedPlaintext) == 0 {
		h.mu.Unlock()
		return
	}
	n := len(h.bufferedPlaintext)
	if n > h.window {
		n = h.window
	}
	chunk := h.bufferedPlaintext[:n]
	h.bufferedPlaintext = h.bufferedPlaintext[n:]
	h.window -= n
	h.mu.Unlock()

	buf := h.pool.Get(n)
	view := buf.Slice(0, copy(buf.Bytes(), chunk))
	s.SendRead(&iochannel.Message{Buffer: view, Type: iochannel.ApplicationData})
}

// OnReadMessage receives ciphertext arriving from the downstream
// (socket) neighbor.
func (h *Handler) OnReadMessage(s *iochannel.Slot, msg *iochannel.Message) {
	h.ensureStarted(s)

	data := msg.Buffer.Copy()
	n := len(data)
	msg.Release(ioerr.OK)

	h.mu.Lock()
	phase := h.phase
	provider := h.provider
	h.mu.Unlock()
	if phase == PhaseFailed || phase == PhaseShuttingDown || provider == nil {
		return
	}

	result, err := provider.PushCiphertext(data)
	if err != nil {
		h.failAndShutdown(s, ioerr.TLSErrorReadFailure)
		return
	}
	// Credit the socket for the ciphertext this call consumed: record
	// framing bounds how far ahead of us it can get, so this does not
	// defeat backpressure — the enforcement point that matters is the
	// plaintext-to-user gate below, via h.window.
	s.IncrementReadWindowUpstream(n)

	h.handleProviderResult(s, DrainResult{
		Plaintext:  result.Plaintext,
		Ciphertext: result.Ciphertext,
		State:      result.State,
	})
}

// OnWriteMessage receives plaintext a user handler wants sent, moving
// toward the socket.
func (h *Handler) OnWriteMessage(s *iochannel.Slot, msg *iochannel.Message) {
	h.ensureStarted(s)

	data := msg.Buffer.Copy()
	msg.Release(ioerr.OK)

	h.mu.Lock()
	phase := h.phase
	h.mu.Unlock()

	switch phase {
	case PhaseFailed, PhaseShuttingDown:
		return
	case PhaseNotStarted, PhaseNegotiating:
		h.mu.Lock()
		h.pendingWrites = append(h.pendingWrites, data...)
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	provider := h.provider
	h.mu.Unlock()
	cipher, err := provider.PushPlaintext(data)
	if err != nil {
		h.failAndShutdown(s, ioerr.TLSErrorWriteFailure)
		return
	}
	if len(cipher) > 0 {
		h.sendCiphertext(s, cipher)
	}
}

// IncrementReadWindow grows how many more plaintext bytes this handler
// may emit upstream, then attempts to flush anything buffered — this is
// the half of the cached-plaintext-shutdown race §4.5 describes that
// lives in the handler rather than the channel: Channel.IncrementReadWindow
// already guarantees this call never races the shutdown cascade, and
// this method never gates the flush on phase, so a buffered decrypt
// still reaches the user even if called after this handler's own
// read-shutdown has completed.
func (h *Handler) IncrementReadWindow(s *iochannel.Slot, delta int) {
	h.mu.Lock()
	h.window += delta
	h.mu.Unlock()
	h.flushBufferedPlaintext(s)
}

// Shutdown implements the shutting_down phase of §4.5: forward
// shutdown() ciphertext (close_notify, if the handshake ever completed),
// then delegate to the downstream/upstream neighbor as appropriate.
func (h *Handler) Shutdown(s *iochannel.Slot, direction iochannel.Direction, cause ioerr.Code) {
	switch direction {
	case iochannel.DirectionRead:
		h.mu.Lock()
		unresolved := h.phase == PhaseNotStarted || h.phase == PhaseNegotiating
		h.phase = PhaseShuttingDown
		task := h.negotiationTask
		h.negotiationTask = nil
		h.mu.Unlock()
		if task != nil {
			s.LoopFor().Cancel(task)
		}
		// A read shutdown before negotiation resolved (e.g. the peer
		// closed the socket mid-handshake) is the negotiation's outcome.
		if unresolved && h.onNegotiated != nil {
			code := cause
			if code == ioerr.OK {
				code = ioerr.ChannelShuttingDown
			}
			h.onNegotiated(code)
		}
		// Once read-shutdown reaches this slot there is no future data
		// left to pace, so the window stops serving any purpose — but
		// the channel completes this entire cascade synchronously and
		// frees its slot arena before any later IncrementReadWindow
		// task could run, which would otherwise lose whatever is still
		// in bufferedPlaintext for good. Flush it unconditionally first.
		h.flushAllBufferedPlaintext(s)
		s.ShutdownComplete(iochannel.DirectionRead)
	case iochannel.DirectionWrite:
		h.mu.Lock()
		provider := h.provider
		h.mu.Unlock()
		if provider != nil {
			if cipher := provider.Shutdown(); len(cipher) > 0 {
				h.sendCiphertext(s, cipher)
			}
		}
		s.ShutdownComplete(iochannel.DirectionWrite)
	}
}

// flushAllBufferedPlaintext delivers everything left in bufferedPlaintext
// upstream, ignoring window entirely. Called only from Shutdown(DirectionRead),
// where withholding already-decrypted bytes behind the window would just
// lose them once this slot reports ShutdownComplete.
func (h *Handler) flushAllBufferedPlaintext(s *iochannel.Slot) {
	h.mu.Lock()
	data := h.bufferedPlaintext
	h.bufferedPlaintext = nil
	h.mu.Unlock()
	if len(data) == 0 {
		return
	}
	buf := h.pool.Get(len(data))
	view := buf.Slice(0, copy(buf.Bytes(), data))
	s.SendRead(&iochannel.Message{Buffer: view, Type: iochannel.ApplicationData})
}

func (h *Handler) failAndShutdown(s *iochannel.Slot, cause ioerr.Code) {
	h.mu.Lock()
	h.phase = PhaseFailed
	h.mu.Unlock()
	log.Printf("tls failure: %s", cause)
	s.ChannelFor().Shutdown(cause)
}
