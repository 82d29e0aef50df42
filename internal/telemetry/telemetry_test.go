package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/flightpath-dev/flightcore/internal/eventbus"
	"github.com/flightpath-dev/flightcore/internal/link"
	"github.com/flightpath-dev/flightcore/internal/protocol/mavlink"
	"github.com/flightpath-dev/flightcore/internal/transport"
)

func newMavlinkTestLink(t *testing.T) (*link.Link, *transport.Loopback) {
	t.Helper()
	a, b := transport.NewLoopbackPair()
	t.Cleanup(func() { b.Close() })
	l := link.New(a, link.DefaultIdentity)
	l.EnableMavlink()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go l.Start(ctx)
	return l, b
}

func TestSubscribeRejectsUnknownStream(t *testing.T) {
	l, _ := newMavlinkTestLink(t)
	bus := eventbus.New(nil)
	s := NewService(l, bus)
	defer s.Close()

	_, err := s.Subscribe(context.Background(), Stream("not-a-stream"), 10)
	if err == nil {
		t.Fatal("expected an error for an unknown stream")
	}
}

func TestSubscribeUnsubscribeTracksRefcount(t *testing.T) {
	l, _ := newMavlinkTestLink(t)
	bus := eventbus.New(nil)
	s := NewService(l, bus)
	defer s.Close()

	tok1, err := s.Subscribe(context.Background(), StreamAttitude, 10)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	tok2, err := s.Subscribe(context.Background(), StreamAttitude, 5)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !s.hasSubscriber(StreamAttitude) {
		t.Fatal("expected a subscriber")
	}

	s.Unsubscribe(tok1)
	if !s.hasSubscriber(StreamAttitude) {
		t.Fatal("should still have one subscriber left")
	}
	s.Unsubscribe(tok2)
	if s.hasSubscriber(StreamAttitude) {
		t.Fatal("should have no subscribers left")
	}
}

func TestMavlinkFanoutPublishesAttitudeToSubscribedStreamOnly(t *testing.T) {
	l, peer := newMavlinkTestLink(t)
	bus := eventbus.New(nil)
	s := NewService(l, bus)
	defer s.Close()

	ch, token := bus.Subscribe(eventbus.SubscribeOptions{})
	defer bus.Unsubscribe(token)

	if _, err := s.Subscribe(context.Background(), StreamAttitude, 10); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// drain the SET_MESSAGE_INTERVAL command the Subscribe call wrote.
	time.Sleep(20 * time.Millisecond)

	wire, err := mavlink.EncodeV2(attitudeMsg{Roll: 1.5, Pitch: -0.5, Yaw: 0.25}, 0, 1, 1, mavlink.EncodeV2Options{})
	if err != nil {
		t.Fatalf("encode attitude: %v", err)
	}
	if _, err := peer.Write(wire); err != nil {
		t.Fatalf("write attitude frame: %v", err)
	}

	select {
	case ev := <-ch:
		sample, ok := ev.(eventbus.TelemetrySample)
		if !ok {
			t.Fatalf("got %T, want eventbus.TelemetrySample", ev)
		}
		if sample.StreamName != string(StreamAttitude) {
			t.Fatalf("got stream %q, want %q", sample.StreamName, StreamAttitude)
		}
		att, ok := sample.Payload.(AttitudeSample)
		if !ok {
			t.Fatalf("got payload %T, want AttitudeSample", sample.Payload)
		}
		if att.RollRad != 1.5 || att.PitchRad != -0.5 {
			t.Fatalf("got %+v, want roll=1.5 pitch=-0.5", att)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the attitude TelemetrySample")
	}
}

func TestMavlinkFanoutSkipsStreamsWithNoSubscriber(t *testing.T) {
	l, peer := newMavlinkTestLink(t)
	bus := eventbus.New(nil)
	s := NewService(l, bus)
	defer s.Close()

	ch, token := bus.Subscribe(eventbus.SubscribeOptions{})
	defer bus.Unsubscribe(token)
	// No Subscribe call at all: hasSubscriber(StreamGPS) is false.

	wire, err := mavlink.EncodeV2(gpsRawIntMsg{FixType: 3, SatellitesVisible: 9}, 0, 1, 1, mavlink.EncodeV2Options{})
	if err != nil {
		t.Fatalf("encode gps: %v", err)
	}
	if _, err := peer.Write(wire); err != nil {
		t.Fatalf("write gps frame: %v", err)
	}

	select {
	case ev := <-ch:
		t.Fatalf("did not expect an event with no subscriber, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
