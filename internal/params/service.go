package params

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flightpath-dev/flightcore/internal/eventbus"
	"github.com/flightpath-dev/flightcore/internal/link"
	"github.com/flightpath-dev/flightcore/internal/protocol/mavlink"
)

const (
	// interItemTimeout resets each time a PARAM_VALUE arrives; the
	// overall enumeration gives up if the FC goes silent for this long,
	// matching mission.Service's re-request-driven approach to pacing.
	interItemTimeout = 2 * time.Second
	setTimeout       = 2 * time.Second
)

// Service caches parameter values keyed by id, per spec.md §4.9. One
// Service per connected link; internal/core's Session serialises bulk
// operations so RequestAll and Set never overlap.
type Service struct {
	link            *link.Link
	bus             *eventbus.Bus
	targetSystem    uint8
	targetComponent uint8

	mu    sync.RWMutex
	cache map[string]Param
}

// NewService binds a Service to the link and the FC's identity.
func NewService(l *link.Link, bus *eventbus.Bus, targetSystem, targetComponent uint8) *Service {
	return &Service{link: l, bus: bus, targetSystem: targetSystem, targetComponent: targetComponent, cache: make(map[string]Param)}
}

// RequestAll sends PARAM_REQUEST_LIST and collects PARAM_VALUE
// responses until ParamCount distinct ids have been seen or the FC
// goes quiet for interItemTimeout, per spec.md §4.9.
func (s *Service) RequestAll(ctx context.Context) ([]Param, error) {
	ch, unsub := s.link.SubscribeMavlink(64)
	defer unsub()

	msg := paramRequestListMsg{TargetSystem: s.targetSystem, TargetComponent: s.targetComponent}
	if err := s.link.WriteMavlink(msg); err != nil {
		return nil, fmt.Errorf("params: send PARAM_REQUEST_LIST: %w", err)
	}

	var expected int = -1
	seen := make(map[string]bool)
	timer := time.NewTimer(interItemTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case frame := <-ch:
			if frame.MsgID != 22 {
				continue
			}
			var m paramValueMsg
			if err := mavlink.DecodePayload(frame.Payload, &m); err != nil {
				return nil, fmt.Errorf("params: decode PARAM_VALUE: %w", err)
			}
			p := s.storeFromWire(m)
			if !seen[p.ID] {
				seen[p.ID] = true
			}
			if expected < 0 {
				expected = int(m.ParamCount)
			}
			if expected == 0 || len(seen) >= expected {
				return s.All(), nil
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(interItemTimeout)
		case <-timer.C:
			return nil, &ErrTimeout{Op: "PARAM_REQUEST_LIST enumeration"}
		}
	}
}

// Get returns a cached parameter and whether it was present.
func (s *Service) Get(id string) (Param, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cache[id]
	return p, ok
}

// All returns every cached parameter, unordered.
func (s *Service) All() []Param {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Param, 0, len(s.cache))
	for _, p := range s.cache {
		out = append(out, p)
	}
	return out
}

// Set writes a parameter and waits for the echoed PARAM_VALUE that
// confirms it, per spec.md §4.9 ("confirmation is the echoed
// PARAM_VALUE"). Emits ParamChanged on the bus once confirmed.
func (s *Service) Set(ctx context.Context, id string, value float32, paramType uint8) error {
	wireID := idToWire(id)
	msg := paramSetMsg{TargetSystem: s.targetSystem, TargetComponent: s.targetComponent, ParamID: wireID, ParamValue: value, ParamType: paramType}

	match := func(f mavlink.Frame) bool {
		if f.MsgID != 22 {
			return false
		}
		var m paramValueMsg
		if mavlink.DecodePayload(f.Payload, &m) != nil {
			return false
		}
		return idFromWire(m.ParamID) == id
	}

	frame, err := s.link.CallMavlink(ctx, msg, match, setTimeout)
	if err != nil {
		return fmt.Errorf("params: set %s: %w", id, err)
	}
	var m paramValueMsg
	if err := mavlink.DecodePayload(frame.Payload, &m); err != nil {
		return fmt.Errorf("params: decode PARAM_VALUE: %w", err)
	}
	before, hadValue := s.Get(id)
	p := s.storeFromWire(m)

	if s.bus != nil && (!hadValue || before.Value != p.Value) {
		s.bus.Publish(ctx, eventbus.NewParamChanged(p.ID, p.Value))
	}
	return nil
}

func (s *Service) storeFromWire(m paramValueMsg) Param {
	p := Param{ID: idFromWire(m.ParamID), Value: m.ParamValue, Type: m.ParamType, Count: m.ParamCount, Index: m.ParamIndex}
	s.mu.Lock()
	s.cache[p.ID] = p
	s.mu.Unlock()
	return p
}
