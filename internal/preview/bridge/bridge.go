// Package bridge is the typed, one-way message channel between the host and
// the isolated rendering context.
//
// Host to sandbox traffic is a sequence of full-document deliveries; each one
// replaces the previous document entirely. Sandbox to host traffic is a
// sequence of console messages that are framed and filtered here before any
// handler sees them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Sentinel errors
var (
	ErrClosed          = errors.New("bridge: closed")
	ErrTransportClosed = errors.New("bridge: transport closed")
)

// ReloadPolicy states how a delivery is applied by the rendering context.
type ReloadPolicy string

// FullReload discards the previous document and all of its script state.
const FullReload ReloadPolicy = "full"

// Delivery is one host to sandbox payload.
type Delivery struct {
	Revision uint64
	Content  string
	Policy   ReloadPolicy
}

// Transport carries deliveries to one rendering context.
type Transport interface {
	Deliver(ctx context.Context, d Delivery) error
	Close() error
}

// Recorder receives bridge counters.
type Recorder interface {
	FrameDropped(reason string)
	FrameAccepted(level string)
}

// Bridge couples the host with at most one transport at a time.
type Bridge struct {
	logger   *zap.Logger
	recorder Recorder

	mu        sync.Mutex
	transport Transport
	last      *Delivery
	handler   func(ConsoleMessage)
	closed    bool

	// sendMu keeps deliveries in order without holding mu during I/O.
	sendMu sync.Mutex

	dropped  atomic.Uint64
	accepted atomic.Uint64
}

// New creates a Bridge with no transport attached.
func New(logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{logger: logger}
}

// WithMetrics sets the counter sink.
func (b *Bridge) WithMetrics(r Recorder) *Bridge {
	b.recorder = r
	return b
}

// Attach makes t the current transport, closing any previous one, and replays
// the most recent delivery so the new context starts with current content.
func (b *Bridge) Attach(ctx context.Context, t Transport) error {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	prev := b.transport
	b.transport = t
	var replay *Delivery
	if b.last != nil {
		d := *b.last
		replay = &d
	}
	b.mu.Unlock()

	if prev != nil && prev != t {
		if err := prev.Close(); err != nil {
			b.logger.Debug("Failed to close replaced transport", zap.Error(err))
		}
	}

	if replay == nil {
		return nil
	}
	if err := t.Deliver(ctx, *replay); err != nil {
		return fmt.Errorf("replay revision %d: %w", replay.Revision, err)
	}
	return nil
}

// Detach removes t if it is the current transport.
func (b *Bridge) Detach(t Transport) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.transport != t {
		return false
	}
	b.transport = nil
	return true
}

// Attached reports whether a transport is attached.
func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transport != nil
}

// SendToSandbox replaces the document in the rendering context. Without an
// attached transport the delivery is retained and replayed on Attach.
func (b *Bridge) SendToSandbox(ctx context.Context, d Delivery) error {
	if d.Policy == "" {
		d.Policy = FullReload
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	last := d
	b.last = &last
	t := b.transport
	b.mu.Unlock()

	if t == nil {
		return nil
	}
	if err := t.Deliver(ctx, d); err != nil {
		return fmt.Errorf("deliver revision %d: %w", d.Revision, err)
	}
	return nil
}

// Last returns the most recent delivery.
func (b *Bridge) Last() (Delivery, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.last == nil {
		return Delivery{}, false
	}
	return *b.last, true
}

// OnFromSandbox registers the handler for accepted console messages.
func (b *Bridge) OnFromSandbox(h func(ConsoleMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Receive frames one raw inbound payload. Malformed or untagged payloads are
// dropped silently; the return value reports whether it reached a handler.
func (b *Bridge) Receive(raw []byte) bool {
	msg, err := Decode(raw)
	if err != nil {
		b.drop("framing")
		b.logger.Debug("Dropped sandbox frame", zap.Error(err), zap.Int("bytes", len(raw)))
		return false
	}
	return b.Dispatch(msg)
}

// Dispatch hands an already decoded message to the handler after the same
// validation Receive applies.
func (b *Bridge) Dispatch(msg ConsoleMessage) bool {
	if !msg.IsConsoleEvent || !msg.Level.Valid() {
		b.drop("framing")
		return false
	}

	b.mu.Lock()
	h, closed := b.handler, b.closed
	b.mu.Unlock()

	if closed {
		b.drop("closed")
		return false
	}
	if h == nil {
		b.drop("no_handler")
		return false
	}

	b.accepted.Add(1)
	if b.recorder != nil {
		b.recorder.FrameAccepted(string(msg.Level))
	}
	h(msg)
	return true
}

// Dropped returns the number of inbound payloads discarded.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Accepted returns the number of inbound payloads delivered to a handler.
func (b *Bridge) Accepted() uint64 { return b.accepted.Load() }

func (b *Bridge) drop(reason string) {
	b.dropped.Add(1)
	if b.recorder != nil {
		b.recorder.FrameDropped(reason)
	}
}

// Close detaches and closes the transport. Subsequent sends fail with
// ErrClosed and inbound payloads are dropped.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	t := b.transport
	b.transport = nil
	b.handler = nil
	b.mu.Unlock()

	if t != nil {
		return t.Close()
	}
	return nil
}
