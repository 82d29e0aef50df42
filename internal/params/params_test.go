package params

import (
	"context"
	"testing"
	"time"

	"github.com/flightpath-dev/flightcore/internal/eventbus"
	"github.com/flightpath-dev/flightcore/internal/link"
	"github.com/flightpath-dev/flightcore/internal/protocol/mavlink"
	"github.com/flightpath-dev/flightcore/internal/transport"
)

func newTestService(t *testing.T) (*Service, *transport.Loopback) {
	t.Helper()
	a, b := transport.NewLoopbackPair()
	l := link.New(a, link.DefaultIdentity)
	l.EnableMavlink()
	go l.Start(context.Background())
	t.Cleanup(func() { l.Close(); b.Close() })
	return NewService(l, nil, 1, 1), b
}

func fakeFC(t *testing.T, peer *transport.Loopback, handle func(f mavlink.Frame) [][]byte) {
	t.Helper()
	go func() {
		dec := mavlink.NewDecoder()
		buf := make([]byte, 1)
		for {
			n, err := peer.Read(buf)
			if err != nil {
				return
			}
			for i := 0; i < n; i++ {
				for _, f := range dec.Feed(buf[i]) {
					for _, resp := range handle(f) {
						peer.Write(resp)
					}
				}
			}
		}
	}()
}

func TestRequestAllCollectsUntilCount(t *testing.T) {
	svc, peer := newTestService(t)

	fakeFC(t, peer, func(f mavlink.Frame) [][]byte {
		if f.MsgID != 21 { // PARAM_REQUEST_LIST
			return nil
		}
		values := []paramValueMsg{
			{ParamID: idToWire("RC1_MIN"), ParamValue: 1000, ParamCount: 3, ParamIndex: 0},
			{ParamID: idToWire("RC1_MAX"), ParamValue: 2000, ParamCount: 3, ParamIndex: 1},
			{ParamID: idToWire("RC1_TRIM"), ParamValue: 1500, ParamCount: 3, ParamIndex: 2},
		}
		var out [][]byte
		for _, v := range values {
			wire, _ := mavlink.EncodeV1(v, 0, 1, 1)
			out = append(out, wire)
		}
		return out
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := svc.RequestAll(ctx)
	if err != nil {
		t.Fatalf("RequestAll: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d params, want 3", len(got))
	}
	p, ok := svc.Get("RC1_MIN")
	if !ok || p.Value != 1000 {
		t.Fatalf("got %+v, want RC1_MIN=1000", p)
	}
}

func TestSetAwaitsEchoedParamValue(t *testing.T) {
	svc, peer := newTestService(t)

	fakeFC(t, peer, func(f mavlink.Frame) [][]byte {
		if f.MsgID != 23 { // PARAM_SET
			return nil
		}
		var m paramSetMsg
		mavlink.DecodePayload(f.Payload, &m)
		wire, _ := mavlink.EncodeV1(paramValueMsg{ParamID: m.ParamID, ParamValue: m.ParamValue, ParamCount: 1, ParamIndex: 0}, 0, 1, 1)
		return [][]byte{wire}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Set(ctx, "ARMING_CHECK", 1, 9); err != nil {
		t.Fatalf("Set: %v", err)
	}
	p, ok := svc.Get("ARMING_CHECK")
	if !ok || p.Value != 1 {
		t.Fatalf("got %+v, want ARMING_CHECK=1", p)
	}
}

func TestRequestAllTimesOutWithNoResponse(t *testing.T) {
	svc, _ := newTestService(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := svc.RequestAll(ctx)
	if err == nil {
		t.Fatal("expected an error when the FC never responds")
	}
}

// TestSetUnchangedValueEmitsNoParamChanged covers spec.md §8's
// idempotence invariant: writing back a value that already matches the
// cache must not publish a ParamChanged.
func TestSetUnchangedValueEmitsNoParamChanged(t *testing.T) {
	a, b := transport.NewLoopbackPair()
	l := link.New(a, link.DefaultIdentity)
	l.EnableMavlink()
	go l.Start(context.Background())
	t.Cleanup(func() { l.Close(); b.Close() })

	bus := eventbus.New(nil)
	svc := NewService(l, bus, 1, 1)

	events, token := bus.Subscribe(eventbus.SubscribeOptions{})
	defer bus.Unsubscribe(token)

	fakeFC(t, b, func(f mavlink.Frame) [][]byte {
		if f.MsgID != 23 { // PARAM_SET
			return nil
		}
		var m paramSetMsg
		mavlink.DecodePayload(f.Payload, &m)
		wire, _ := mavlink.EncodeV1(paramValueMsg{ParamID: m.ParamID, ParamValue: m.ParamValue, ParamCount: 1, ParamIndex: 0}, 0, 1, 1)
		return [][]byte{wire}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := svc.Set(ctx, "ARMING_CHECK", 1, 9); err != nil {
		t.Fatalf("first Set: %v", err)
	}
	select {
	case ev := <-events:
		if _, ok := ev.(eventbus.ParamChanged); !ok {
			t.Fatalf("got %T, want ParamChanged on first set", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a ParamChanged event on the first, value-changing set")
	}

	if err := svc.Set(ctx, "ARMING_CHECK", 1, 9); err != nil {
		t.Fatalf("second Set: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("got unexpected event %+v on an unchanged write", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestIDWireRoundTrip(t *testing.T) {
	for _, id := range []string{"A", "RC1_MIN", "SIXTEEN_CHAR_IDX"} {
		wire := idToWire(id)
		if got := idFromWire(wire); got != id {
			t.Fatalf("got %q, want %q", got, id)
		}
	}
}
