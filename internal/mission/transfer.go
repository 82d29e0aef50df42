package mission

import (
	"context"
	"fmt"
	"time"

	"github.com/flightpath-dev/flightcore/internal/eventbus"
	"github.com/flightpath-dev/flightcore/internal/link"
	"github.com/flightpath-dev/flightcore/internal/protocol/mavlink"
)

const (
	requestTimeout = 2 * time.Second
	ackTimeout     = 2 * time.Second
)

// Service runs the chunked mission/rally transfer protocol over an
// already-connected Link. One in-flight bulk transfer at a time per
// spec.md §4 invariant 2 — callers serialise Download/Upload/Clear
// themselves (internal/core's Session holds the single-transfer lock).
type Service struct {
	link            *link.Link
	bus             *eventbus.Bus
	targetSystem    uint8
	targetComponent uint8
}

// NewService binds a Service to the link and the FC's identity as
// learned during detection/connect.
func NewService(l *link.Link, bus *eventbus.Bus, targetSystem, targetComponent uint8) *Service {
	return &Service{link: l, bus: bus, targetSystem: targetSystem, targetComponent: targetComponent}
}

// Download runs MISSION_REQUEST_LIST -> MISSION_COUNT -> per-seq
// MISSION_REQUEST_INT/MISSION_ITEM_INT, per spec.md §4.9. An empty
// mission (count == 0) completes with a single MISSION_ACK and no
// MISSION_REQUEST_INT is sent, per spec.md §8.
func (s *Service) Download(ctx context.Context, missionType uint8) ([]Item, error) {
	count, err := s.requestCount(ctx, missionType)
	if err != nil {
		return nil, err
	}

	s.emitProgress("download", 0, int(count))
	if count == 0 {
		return nil, s.sendAck(missionType, MissionAccepted)
	}

	items := make([]Item, 0, count)
	for seq := uint16(0); seq < count; seq++ {
		it, err := s.requestItem(ctx, missionType, seq)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
		s.emitProgress("download", int(seq)+1, int(count))
	}

	return items, s.sendAck(missionType, MissionAccepted)
}

func (s *Service) requestCount(ctx context.Context, missionType uint8) (uint16, error) {
	msg := missionRequestListMsg{TargetSystem: s.targetSystem, TargetComponent: s.targetComponent, MissionType: missionType}
	frame, err := s.link.CallMavlink(ctx, msg, func(f mavlink.Frame) bool { return f.MsgID == 44 }, requestTimeout)
	if err != nil {
		return 0, fmt.Errorf("mission: request count: %w", err)
	}
	var m missionCountMsg
	if err := mavlink.DecodePayload(frame.Payload, &m); err != nil {
		return 0, fmt.Errorf("mission: decode MISSION_COUNT: %w", err)
	}
	return m.Count, nil
}

func (s *Service) requestItem(ctx context.Context, missionType uint8, seq uint16) (Item, error) {
	msg := missionRequestIntMsg{TargetSystem: s.targetSystem, TargetComponent: s.targetComponent, Seq: seq, MissionType: missionType}
	frame, err := s.link.CallMavlink(ctx, msg, func(f mavlink.Frame) bool { return f.MsgID == 73 }, requestTimeout)
	if err != nil {
		return Item{}, fmt.Errorf("mission: request item %d: %w", seq, err)
	}
	var m missionItemIntMsg
	if err := mavlink.DecodePayload(frame.Payload, &m); err != nil {
		return Item{}, fmt.Errorf("mission: decode MISSION_ITEM_INT: %w", err)
	}
	if m.Seq != seq {
		return Item{}, &ErrOutOfOrderItem{Want: seq, Got: m.Seq}
	}
	return itemFromWire(m), nil
}

func itemFromWire(m missionItemIntMsg) Item {
	return Item{
		Seq:          m.Seq,
		Frame:        m.Frame,
		Command:      m.Command,
		Current:      m.Current,
		Autocontinue: m.Autocontinue,
		Param1:       m.Param1,
		Param2:       m.Param2,
		Param3:       m.Param3,
		Param4:       m.Param4,
		Latitude:     float64(m.X) / 1e7,
		Longitude:    float64(m.Y) / 1e7,
		Altitude:     m.Z,
	}
}

func itemToWire(it Item, seq uint16, missionType uint8, targetSystem, targetComponent uint8) missionItemIntMsg {
	return missionItemIntMsg{
		TargetSystem:    targetSystem,
		TargetComponent: targetComponent,
		Seq:             seq,
		Frame:           it.Frame,
		Command:         it.Command,
		Current:         it.Current,
		Autocontinue:    it.Autocontinue,
		Param1:          it.Param1,
		Param2:          it.Param2,
		Param3:          it.Param3,
		Param4:          it.Param4,
		X:               int32(it.Latitude * 1e7),
		Y:               int32(it.Longitude * 1e7),
		Z:               it.Altitude,
		MissionType:     missionType,
	}
}

// Upload mirrors Download: the core sends MISSION_COUNT, then replies
// to the FC's MISSION_REQUEST_INT re-requests from a locally buffered
// list until the FC sends a terminal MISSION_ACK, per spec.md §4.9
// ("retries on individual missing items are driven by the FC's
// re-requests; the core replies from a locally buffered list").
func (s *Service) Upload(ctx context.Context, missionType uint8, items []Item) error {
	count := uint16(len(items))
	s.emitProgress("upload", 0, int(count))

	ackCh, unsub := s.link.SubscribeMavlink(8)
	defer unsub()

	msg := missionCountMsg{TargetSystem: s.targetSystem, TargetComponent: s.targetComponent, Count: count, MissionType: missionType}
	if err := s.link.WriteMavlink(msg); err != nil {
		return fmt.Errorf("mission: send MISSION_COUNT: %w", err)
	}
	if count == 0 {
		return s.awaitAck(ctx, ackCh)
	}

	delivered := 0
	deadline := time.Now().Add(ackTimeout)
	for delivered < int(count) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("mission: upload timeout waiting for FC requests")
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case frame := <-ackCh:
			timer.Stop()
			switch frame.MsgID {
			case 51: // MISSION_REQUEST_INT
				var req missionRequestIntMsg
				if err := mavlink.DecodePayload(frame.Payload, &req); err != nil {
					return fmt.Errorf("mission: decode MISSION_REQUEST_INT: %w", err)
				}
				if int(req.Seq) >= len(items) {
					return fmt.Errorf("mission: FC requested out-of-range seq %d", req.Seq)
				}
				wire := itemToWire(items[req.Seq], req.Seq, missionType, s.targetSystem, s.targetComponent)
				if err := s.link.WriteMavlink(wire); err != nil {
					return fmt.Errorf("mission: send MISSION_ITEM_INT %d: %w", req.Seq, err)
				}
				delivered++
				s.emitProgress("upload", delivered, int(count))
				deadline = time.Now().Add(ackTimeout)
			case 47: // MISSION_ACK arrived before every item was requested
				var ack missionAckMsg
				if err := mavlink.DecodePayload(frame.Payload, &ack); err != nil {
					return fmt.Errorf("mission: decode MISSION_ACK: %w", err)
				}
				if ack.Type != MissionAccepted {
					return &ErrAckRejected{Result: ack.Type}
				}
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("mission: upload timeout waiting for FC requests")
		}
	}

	return s.awaitAck(ctx, ackCh)
}

func (s *Service) awaitAck(ctx context.Context, ch <-chan mavlink.Frame) error {
	deadline := time.NewTimer(ackTimeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-ch:
			if frame.MsgID != 47 {
				continue
			}
			var ack missionAckMsg
			if err := mavlink.DecodePayload(frame.Payload, &ack); err != nil {
				return fmt.Errorf("mission: decode MISSION_ACK: %w", err)
			}
			if ack.Type != MissionAccepted {
				return &ErrAckRejected{Result: ack.Type}
			}
			return nil
		case <-deadline.C:
			return fmt.Errorf("mission: timeout waiting for MISSION_ACK")
		}
	}
}

func (s *Service) sendAck(missionType, result uint8) error {
	msg := missionAckMsg{TargetSystem: s.targetSystem, TargetComponent: s.targetComponent, Type: result, MissionType: missionType}
	return s.link.WriteMavlink(msg)
}

// Clear sends MISSION_CLEAR_ALL and waits for the FC's MISSION_ACK.
func (s *Service) Clear(ctx context.Context, missionType uint8) error {
	msg := missionClearAllMsg{TargetSystem: s.targetSystem, TargetComponent: s.targetComponent, MissionType: missionType}
	frame, err := s.link.CallMavlink(ctx, msg, func(f mavlink.Frame) bool { return f.MsgID == 47 }, ackTimeout)
	if err != nil {
		return fmt.Errorf("mission: clear: %w", err)
	}
	var ack missionAckMsg
	if err := mavlink.DecodePayload(frame.Payload, &ack); err != nil {
		return fmt.Errorf("mission: decode MISSION_ACK: %w", err)
	}
	if ack.Type != MissionAccepted {
		return &ErrAckRejected{Result: ack.Type}
	}
	return nil
}

func (s *Service) emitProgress(direction string, index, total int) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), eventbus.NewMissionProgress(direction, index, total))
}

// DownloadRally/UploadRally/ClearRally are the rally-point variants,
// using mission_type = RALLY(2) per spec.md §4.9.

func (s *Service) DownloadRally(ctx context.Context) ([]RallyPoint, error) {
	items, err := s.Download(ctx, TypeRally)
	if err != nil {
		return nil, err
	}
	out := make([]RallyPoint, 0, len(items))
	for _, it := range items {
		out = append(out, rallyFromItem(it))
	}
	return out, nil
}

func (s *Service) UploadRally(ctx context.Context, points []RallyPoint) error {
	items := make([]Item, 0, len(points))
	for i, p := range points {
		p.Seq = uint16(i)
		items = append(items, p.toItem())
	}
	return s.Upload(ctx, TypeRally, items)
}

func (s *Service) ClearRally(ctx context.Context) error {
	return s.Clear(ctx, TypeRally)
}
