// Package link multiplexes a single Transport across request/response
// RPCs, unsolicited telemetry streams, and the periodic poll scheduler —
// the three surfaces spec.md §4.5 requires. It owns the byte reader loop
// and feeds every enabled protocol decoder in parallel, the same way
// gomavlib's Node owns a single read loop per endpoint; generalised here
// from "one protocol" to "N decoders, typed waiter registry, typed
// subscriber registry" per SPEC_FULL.md §4.5.
package link

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flightpath-dev/flightcore/internal/protocol/mavlink"
	"github.com/flightpath-dev/flightcore/internal/protocol/msp"
	"github.com/flightpath-dev/flightcore/internal/transport"
)

// GroundStationIdentity is the sysId/compId this core presents as on the
// MAVLink network, matching the teacher's GCS heartbeat identity.
type GroundStationIdentity struct {
	SysID  uint8
	CompID uint8
}

var DefaultIdentity = GroundStationIdentity{SysID: 255, CompID: 190}

// Link owns one Transport for its lifetime. Created disabled for both
// protocols; the detection FSM enables whichever one it confirms.
type Link struct {
	t        transport.Transport
	identity GroundStationIdentity
	signing  *mavlink.SigningPolicy

	writeMu sync.Mutex
	seq     atomic.Uint32

	mavlinkEnabled atomic.Bool
	mspEnabled     atomic.Bool

	mavDecoder *mavlink.Decoder
	mspDecoder *msp.Decoder

	waiters   waiterRegistry
	mavSubs   subscriberSet[mavlink.Frame]
	mspSubs   subscriberSet[msp.Frame]

	OnCrcError      func(protocol string)
	OnUnmatchedSubs func(mavlink.Frame)

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

// New wraps an already-open Transport. Call EnableMavlink/EnableMSP
// before Start to select which decoders run.
func New(t transport.Transport, identity GroundStationIdentity) *Link {
	l := &Link{
		t:        t,
		identity: identity,
		closed:   make(chan struct{}),
	}
	l.mavDecoder = mavlink.NewDecoder()
	l.mavDecoder.OnCrcError = func(uint32) {
		if l.OnCrcError != nil {
			l.OnCrcError("mavlink")
		}
	}
	l.mspDecoder = msp.NewDecoder()
	l.mspDecoder.OnChecksumError = func(*msp.ChecksumError) {
		if l.OnCrcError != nil {
			l.OnCrcError("msp")
		}
	}
	return l
}

// EnableMavlink turns on the MAVLink decoder for the lifetime of this
// connection. Call before Start; the detection FSM fixes decoders once
// for the connection per spec.md §4.5.
func (l *Link) EnableMavlink() { l.mavlinkEnabled.Store(true) }

// EnableMSP turns on the MSP decoder.
func (l *Link) EnableMSP() { l.mspEnabled.Store(true) }

// MavlinkEnabled reports whether the MAVLink decoder is active, letting
// callers (internal/telemetry's stream scheduler, internal/core) branch
// on which protocol this connection speaks without re-deriving it.
func (l *Link) MavlinkEnabled() bool { return l.mavlinkEnabled.Load() }

// MSPEnabled reports whether the MSP decoder is active.
func (l *Link) MSPEnabled() bool { return l.mspEnabled.Load() }

// SetSigningPolicy configures MAVLink v2 signing for outbound frames and
// incoming-frame verification.
func (l *Link) SetSigningPolicy(p *mavlink.SigningPolicy) { l.signing = p }

// Start launches the reader loop. It returns once the loop exits (on
// ctx cancellation, a fatal transport error, or Close).
func (l *Link) Start(ctx context.Context) error {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.closed:
			return l.closeErr
		default:
		}

		n, err := l.t.Read(buf)
		if err != nil {
			l.failAllWaiters(ErrDisconnected)
			l.Close()
			return err
		}
		for i := 0; i < n; i++ {
			l.feedByte(buf[i])
		}
	}
}

func (l *Link) feedByte(b byte) {
	if l.mavlinkEnabled.Load() {
		for _, f := range l.mavDecoder.Feed(b) {
			l.dispatchMavlink(f)
		}
	}
	if l.mspEnabled.Load() {
		for _, f := range l.mspDecoder.Feed(b) {
			l.dispatchMSP(f)
		}
	}
}

func (l *Link) dispatchMavlink(f mavlink.Frame) {
	if l.waiters.resolveMavlink(f) {
		return
	}
	if !l.mavSubs.broadcast(f) && l.OnUnmatchedSubs != nil {
		l.OnUnmatchedSubs(f)
	}
}

func (l *Link) dispatchMSP(f msp.Frame) {
	if l.waiters.resolveMSP(f) {
		return
	}
	l.mspSubs.broadcast(f)
}

// nextSeq returns the next MAVLink sequence number, wrapping at 256 —
// the Link's responsibility per spec.md §4.2, not the codec's.
func (l *Link) nextSeq() uint8 {
	return uint8(l.seq.Add(1) - 1)
}

// WriteMavlink encodes and writes msg as a v2 frame using this Link's
// identity and signing policy.
func (l *Link) WriteMavlink(msg mavlink.Message) error {
	opts := mavlink.EncodeV2Options{}
	if l.signing != nil {
		opts.Signing = l.signing
	}
	wire, err := mavlink.EncodeV2(msg, l.nextSeq(), l.identity.SysID, l.identity.CompID, opts)
	if err != nil {
		return fmt.Errorf("link: encode mavlink: %w", err)
	}
	return l.write(wire)
}

// WriteMSP encodes and writes an MSP v2 request frame.
func (l *Link) WriteMSP(code uint16, payload []byte) error {
	wire := msp.EncodeV2(msp.DirToFC, code, payload)
	return l.write(wire)
}

func (l *Link) write(wire []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_, err := l.t.Write(wire)
	return err
}

// CallMavlink registers a waiter for a MAVLink response matching
// `match`, writes msg, and blocks until a match arrives, ctx is
// cancelled, or timeout elapses.
func (l *Link) CallMavlink(ctx context.Context, msg mavlink.Message, match func(mavlink.Frame) bool, timeout time.Duration) (mavlink.Frame, error) {
	w := l.waiters.registerMavlink(match, timeout)
	defer l.waiters.remove(w)

	if err := l.WriteMavlink(msg); err != nil {
		return mavlink.Frame{}, err
	}
	return w.waitMavlink(ctx)
}

// CallMSP registers a waiter for an MSP response with the given code,
// writes the request, and blocks for a match.
func (l *Link) CallMSP(ctx context.Context, code uint16, payload []byte, timeout time.Duration) (msp.Frame, error) {
	w := l.waiters.registerMSP(code, timeout)
	defer l.waiters.remove(w)

	if err := l.WriteMSP(code, payload); err != nil {
		return msp.Frame{}, err
	}
	return w.waitMSP(ctx)
}

// SubscribeMavlink registers a new telemetry subscriber. The returned
// func unsubscribes; it is safe to call more than once.
func (l *Link) SubscribeMavlink(buffer int) (<-chan mavlink.Frame, func()) {
	return l.mavSubs.subscribe(buffer)
}

// SubscribeMSP registers a new MSP response subscriber.
func (l *Link) SubscribeMSP(buffer int) (<-chan msp.Frame, func()) {
	return l.mspSubs.subscribe(buffer)
}

// Transport exposes the raw Transport for components that must bypass
// the Link entirely — the Flash FSM's bootloader stages, which own the
// wire directly per spec.md §4.5's "no concurrency here" note on
// bootloader correlation.
func (l *Link) Transport() transport.Transport { return l.t }

// Close releases the transport and fails every pending waiter with
// Disconnected. Idempotent.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.t.Close()
		l.failAllWaiters(ErrDisconnected)
		close(l.closed)
	})
	return l.closeErr
}

// Done reports when the Link has been closed.
func (l *Link) Done() <-chan struct{} { return l.closed }
