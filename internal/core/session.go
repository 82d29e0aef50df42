package core

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/flightpath-dev/flightcore/internal/config"
	"github.com/flightpath-dev/flightcore/internal/detection"
	"github.com/flightpath-dev/flightcore/internal/eventbus"
	"github.com/flightpath-dev/flightcore/internal/firmware"
	"github.com/flightpath-dev/flightcore/internal/flash"
	"github.com/flightpath-dev/flightcore/internal/link"
	"github.com/flightpath-dev/flightcore/internal/mission"
	"github.com/flightpath-dev/flightcore/internal/modes"
	"github.com/flightpath-dev/flightcore/internal/params"
	"github.com/flightpath-dev/flightcore/internal/telemetry"
	"github.com/flightpath-dev/flightcore/internal/transport"
)

// Session is the facade every shell (a CLI, internal/shellgw) drives.
// One Session holds at most one open Link at a time; Connect/Disconnect
// bracket that Link's lifetime, and a single mutex (busyMu) enforces
// spec.md §4's invariant 2 across flash, mission transfer, and parameter
// bulk operations.
type Session struct {
	cfg    *config.Config
	hints  *config.BoardHintTable
	bus    *eventbus.Bus
	logger *log.Logger
	cache  *firmware.Cache

	mu        sync.Mutex
	t         transport.Transport
	portInfo  transport.PortInfo
	l         *link.Link
	linkCtx   context.Context
	linkStop  context.CancelFunc
	board     *BoardSummary

	missionSvc  *mission.Service
	paramSvc    *params.Service
	modeSvc     *modes.Service
	telemSvc    *telemetry.Service
	flashRunner *flash.Runner

	busyMu sync.Mutex
	busyOp string
}

// NewSession builds a Session from cfg. hints may be nil (detection then
// proceeds with no vid:pid seed); a nil logger writes to log.Default().
func NewSession(cfg *config.Config, hints *config.BoardHintTable, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		cfg:    cfg,
		hints:  hints,
		bus:    eventbus.New(logger),
		logger: logger,
		cache:  firmware.NewCache(cfg.Firmware.CacheRoot, http.DefaultClient),
	}
}

// Events returns the channel a shell reads every published eventbus.Event
// from, per spec.md §6's "one subscription stream" note. Call once; for
// more than one independent reader use Session.Bus().Subscribe directly.
func (s *Session) Events() <-chan eventbus.Event {
	ch, _ := s.bus.Subscribe(eventbus.SubscribeOptions{BufferSize: 256})
	return ch
}

// Bus exposes the underlying eventbus.Bus for callers (internal/shellgw)
// that need SubscribeOptions control over buffering/coalescing.
func (s *Session) Bus() *eventbus.Bus { return s.bus }

// FirmwareCache exposes the session's content-addressed download cache so
// a caller building a FlashJob.Download spec (whose Cache field can't be
// populated by a JSON request body — firmware.Cache carries unexported
// http client/root-dir state) can fill it in before calling Flash.
func (s *Session) FirmwareCache() *firmware.Cache { return s.cache }

// ListPorts enumerates candidate serial ports, per spec.md §6.
func (s *Session) ListPorts() ([]transport.PortInfo, error) {
	return transport.Enumerate()
}

// Connect opens opts.Path and leaves the Session in the pre-detection
// state: a raw Transport with no protocol decoder enabled yet. DetectBoard
// must be called next to classify the board and enable the right
// decoder.
func (s *Session) Connect(opts ConnectOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t != nil {
		return &ErrAlreadyConnected{}
	}

	baud := opts.Baud
	if baud == 0 {
		baud = s.cfg.Transport.DefaultBaud
	}
	st, err := transport.Open(opts.Path, baud)
	if err != nil {
		return err
	}

	s.t = st
	s.portInfo = lookupPortInfo(opts.Path)
	return nil
}

// lookupPortInfo finds opts.Path's vendor/product detail in the current
// enumeration, falling back to a bare path-only PortInfo (still enough
// for WatchDisappearance, just with no board-hint match) if the port
// isn't found — e.g. a non-USB serial device.
func lookupPortInfo(path string) transport.PortInfo {
	ports, err := transport.Enumerate()
	if err != nil {
		return transport.PortInfo{Path: path}
	}
	for _, p := range ports {
		if p.Path == path {
			return p
		}
	}
	return transport.PortInfo{Path: path}
}

// Disconnect tears down the Link (if any) and closes the Transport.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.t == nil {
		return &ErrNotConnected{}
	}

	if s.linkStop != nil {
		s.linkStop()
	}
	if s.telemSvc != nil {
		s.telemSvc.Close()
		s.telemSvc = nil
	}
	s.missionSvc = nil
	s.paramSvc = nil
	s.modeSvc = nil
	s.l = nil
	s.board = nil

	err := s.t.Close()
	s.t = nil
	return err
}

// DetectBoard runs the detection FSM over the already-open Transport,
// then constructs this session's Link with the winning protocol's decoder
// enabled and starts its read loop. Per spec.md §4.6/§6.
func (s *Session) DetectBoard(ctx context.Context) (*BoardSummary, error) {
	s.mu.Lock()
	t := s.t
	portInfo := s.portInfo
	s.mu.Unlock()
	if t == nil {
		return nil, &ErrNotConnected{}
	}

	board, detectErr := detection.Run(ctx, t, portInfo, s.hints, s.bus)
	if detectErr != nil {
		return nil, detectErr
	}

	summary := summarize(board)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.board = summary

	l := link.New(t, link.DefaultIdentity)
	switch board.Method {
	case "mavlink":
		l.EnableMavlink()
	case "msp":
		l.EnableMSP()
	}
	linkCtx, stop := context.WithCancel(context.Background())
	go l.Start(linkCtx)
	s.l = l
	s.linkCtx = linkCtx
	s.linkStop = stop

	if board.Method == "mavlink" {
		s.missionSvc = mission.NewService(l, s.bus, summary.TargetSystem, summary.TargetComponent)
		s.paramSvc = params.NewService(l, s.bus, summary.TargetSystem, summary.TargetComponent)
	}
	if board.Method == "msp" {
		s.modeSvc = modes.NewService(l)
	}
	s.telemSvc = telemetry.NewService(l, s.bus)

	return summary, nil
}

// Board returns the last DetectBoard result, or nil if none has
// succeeded yet.
func (s *Session) Board() *BoardSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// link returns the active Link or ErrNotConnected.
func (s *Session) link() (*link.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.l == nil {
		return nil, &ErrNotConnected{}
	}
	return s.l, nil
}

// acquireBusy claims the single-transfer lock for op, per spec.md §4's
// invariant 2 ("no two concurrent bulk transfers on the same link");
// release must be called exactly once it returns nil.
func (s *Session) acquireBusy(op string) (release func(), err error) {
	s.busyMu.Lock()
	defer s.busyMu.Unlock()
	if s.busyOp != "" {
		return nil, &ErrBusy{Running: s.busyOp}
	}
	s.busyOp = op
	return func() {
		s.busyMu.Lock()
		s.busyOp = ""
		s.busyMu.Unlock()
	}, nil
}

// reopenTransport is passed to flash.Dependencies.ReopenTransport: it
// reopens the same path the Session originally Connect'd to, at the
// board's bootloader baud rate (AN3155 and most DFU bootloaders run at
// the same baud regardless of the application's own rate).
func (s *Session) reopenTransport(ctx context.Context) (transport.Transport, error) {
	s.mu.Lock()
	path := s.portInfo.Path
	baud := s.cfg.Transport.DefaultBaud
	s.mu.Unlock()

	deadline := time.Now().Add(flashReopenBudget)
	var lastErr error
	for time.Now().Before(deadline) {
		t, err := transport.Open(path, baud)
		if err == nil {
			return t, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("core: reopen %s after bootloader reset: %w", path, lastErr)
}

const flashReopenBudget = 10 * time.Second
