package link

import (
	"context"
	"testing"
	"time"

	"github.com/flightpath-dev/flightcore/internal/protocol/mavlink"
	"github.com/flightpath-dev/flightcore/internal/protocol/msp"
	"github.com/flightpath-dev/flightcore/internal/transport"
)

type testHeartbeat struct {
	Type uint8
}

func (testHeartbeat) GetID() uint32 { return 0 }

func newTestPair(t *testing.T) (*Link, *transport.Loopback) {
	t.Helper()
	a, b := transport.NewLoopbackPair()
	l := New(a, DefaultIdentity)
	l.EnableMavlink()
	l.EnableMSP()
	go l.Start(context.Background())
	t.Cleanup(func() { l.Close(); b.Close() })
	return l, b
}

func TestCallMavlinkMatchesResponse(t *testing.T) {
	l, peer := newTestPair(t)

	done := make(chan error, 1)
	go func() {
		dec := mavlink.NewDecoder()
		buf := make([]byte, 1)
		for {
			n, err := peer.Read(buf)
			if err != nil {
				done <- err
				return
			}
			for i := 0; i < n; i++ {
				if frames := dec.Feed(buf[i]); len(frames) == 1 {
					resp, _ := mavlink.EncodeV1(testHeartbeat{Type: 7}, 0, 1, 1)
					peer.Write(resp)
					done <- nil
					return
				}
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := l.CallMavlink(ctx, testHeartbeat{}, func(f mavlink.Frame) bool { return f.MsgID == 0 }, time.Second)
	if err != nil {
		t.Fatalf("CallMavlink: %v", err)
	}
	if f.MsgID != 0 {
		t.Fatalf("got msgID %d, want 0", f.MsgID)
	}
	<-done
}

func TestCallMavlinkTimeout(t *testing.T) {
	l, _ := newTestPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := l.CallMavlink(ctx, testHeartbeat{}, func(f mavlink.Frame) bool { return f.MsgID == 999 }, 50*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestUnmatchedFrameGoesToSubscriber(t *testing.T) {
	l, peer := newTestPair(t)

	ch, unsub := l.SubscribeMavlink(4)
	defer unsub()

	msg := testHeartbeat{Type: 3}
	wire, err := mavlink.EncodeV1(msg, 0, 1, 1)
	if err != nil {
		t.Fatalf("EncodeV1: %v", err)
	}
	if _, err := peer.Write(wire); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case f := <-ch:
		if f.MsgID != 0 {
			t.Fatalf("got msgID %d, want 0", f.MsgID)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received frame")
	}
}

func TestCloseFailsAllWaiters(t *testing.T) {
	l, peer := newTestPair(t)

	ctx := context.Background()
	errCh := make(chan error, 1)
	go func() {
		_, err := l.CallMavlink(ctx, testHeartbeat{}, func(f mavlink.Frame) bool { return f.MsgID == 123 }, 5*time.Second)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	peer.Close()

	select {
	case err := <-errCh:
		if err != ErrDisconnected {
			t.Fatalf("got %v, want ErrDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was never resolved after disconnect")
	}
}

func TestCallMSPMatchesResponse(t *testing.T) {
	l, peer := newTestPair(t)

	go func() {
		dec := msp.NewDecoder()
		buf := make([]byte, 1)
		for {
			n, err := peer.Read(buf)
			if err != nil {
				return
			}
			for i := 0; i < n; i++ {
				if frames := dec.Feed(buf[i]); len(frames) == 1 {
					resp := msp.EncodeV2(msp.DirFromFC, 1, []byte{1, 2, 3, 4})
					peer.Write(resp)
					return
				}
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := l.CallMSP(ctx, 1, nil, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("CallMSP: %v", err)
	}
	if f.Code != 1 {
		t.Fatalf("got code %d, want 1", f.Code)
	}
}
