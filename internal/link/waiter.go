package link

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flightpath-dev/flightcore/internal/protocol/mavlink"
	"github.com/flightpath-dev/flightcore/internal/protocol/msp"
)

// ErrDisconnected is how every pending waiter resolves when the Link's
// transport is lost, per spec.md §3's ownership invariant 3 and §4.5's
// "On disconnect every pending waiter fails with Disconnected."
var ErrDisconnected = errors.New("link: disconnected")

// ErrTimeout is returned when a waiter's deadline fires before any
// matching frame arrives.
var ErrTimeout = errors.New("link: timeout waiting for response")

type waiterKind int

const (
	waiterMavlink waiterKind = iota
	waiterMSP
)

// waiter is one outstanding RPC. Only one of mavlinkResult/mspResult is
// ever written to, matching its kind. The oldest waiter for a given
// correlation always wins per spec.md §5's "RPC match" tie-break — this
// is structural here since resolveMavlink/resolveMSP scan in
// registration order and stop at the first match.
type waiter struct {
	kind     waiterKind
	match    func(mavlink.Frame) bool
	mspCode  uint16
	deadline time.Time

	once   sync.Once
	result chan any // mavlink.Frame, msp.Frame, or error
}

func newWaiter(kind waiterKind, timeout time.Duration) *waiter {
	return &waiter{
		kind:     kind,
		deadline: time.Now().Add(timeout),
		result:   make(chan any, 1),
	}
}

func (w *waiter) resolve(v any) {
	w.once.Do(func() {
		w.result <- v
	})
}

func (w *waiter) waitMavlink(ctx context.Context) (mavlink.Frame, error) {
	v, err := w.wait(ctx)
	if err != nil {
		return mavlink.Frame{}, err
	}
	if f, ok := v.(mavlink.Frame); ok {
		return f, nil
	}
	return mavlink.Frame{}, v.(error)
}

func (w *waiter) waitMSP(ctx context.Context) (msp.Frame, error) {
	v, err := w.wait(ctx)
	if err != nil {
		return msp.Frame{}, err
	}
	if f, ok := v.(msp.Frame); ok {
		return f, nil
	}
	return msp.Frame{}, v.(error)
}

func (w *waiter) wait(ctx context.Context) (any, error) {
	timer := time.NewTimer(time.Until(w.deadline))
	defer timer.Stop()

	select {
	case v := <-w.result:
		if err, ok := v.(error); ok {
			return nil, err
		}
		return v, nil
	case <-timer.C:
		w.resolve(ErrTimeout)
		return nil, ErrTimeout
	case <-ctx.Done():
		w.resolve(ctx.Err())
		return nil, ctx.Err()
	}
}

// waiterRegistry holds every outstanding RPC waiter, guarded by a single
// mutex — matching the teacher's sync.RWMutex-guarded connection fields,
// generalised from one ad hoc field set to a typed registry.
type waiterRegistry struct {
	mu      sync.Mutex
	waiters []*waiter
}

func (r *waiterRegistry) registerMavlink(match func(mavlink.Frame) bool, timeout time.Duration) *waiter {
	w := newWaiter(waiterMavlink, timeout)
	w.match = match
	r.mu.Lock()
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()
	return w
}

func (r *waiterRegistry) registerMSP(code uint16, timeout time.Duration) *waiter {
	w := newWaiter(waiterMSP, timeout)
	w.mspCode = code
	r.mu.Lock()
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()
	return w
}

func (r *waiterRegistry) remove(target *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiters {
		if w == target {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}

// resolveMavlink delivers f to the oldest matching waiter, if any, and
// reports whether it did — callers broadcast to subscribers only when
// this returns false, upholding invariant 4 ("exactly one RPC waiter or
// broadcast — never both, never neither").
func (r *waiterRegistry) resolveMavlink(f mavlink.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiters {
		if w.kind != waiterMavlink || w.match == nil {
			continue
		}
		if w.match(f) {
			w.resolve(f)
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (r *waiterRegistry) resolveMSP(f msp.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.waiters {
		if w.kind != waiterMSP {
			continue
		}
		if w.mspCode == f.Code && f.Direction == msp.DirFromFC {
			w.resolve(f)
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (l *Link) failAllWaiters(err error) {
	l.waiters.mu.Lock()
	defer l.waiters.mu.Unlock()
	for _, w := range l.waiters.waiters {
		w.resolve(err)
	}
	l.waiters.waiters = nil
}
