package eventbus

import (
	"context"
	"testing"
)

func TestPublishOrdering(t *testing.T) {
	bus := New(nil)
	ch, token := bus.Subscribe(SubscribeOptions{})
	defer bus.Unsubscribe(token)

	ctx := context.Background()
	bus.Publish(ctx, NewDetectionProgress("TryMavlink"))
	bus.Publish(ctx, NewDetectionProgress("TryMsp"))
	bus.Publish(ctx, NewDetectionProgress("TryBootloader"))

	want := []string{"TryMavlink", "TryMsp", "TryBootloader"}
	for _, w := range want {
		ev := <-ch
		dp, ok := ev.(DetectionProgress)
		if !ok {
			t.Fatalf("expected DetectionProgress, got %T", ev)
		}
		if dp.Step != w {
			t.Fatalf("got step %q, want %q", dp.Step, w)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(nil)
	ch, token := bus.Subscribe(SubscribeOptions{})
	bus.Unsubscribe(token)

	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
}

func TestLatestOnlyCoalesces(t *testing.T) {
	bus := New(nil)
	ch, token := bus.Subscribe(SubscribeOptions{
		BufferSize: 1,
		LatestOnly: map[string]bool{"attitude": true},
	})
	defer bus.Unsubscribe(token)

	ctx := context.Background()
	bus.Publish(ctx, NewTelemetrySample("attitude", 1))
	bus.Publish(ctx, NewTelemetrySample("attitude", 2))
	bus.Publish(ctx, NewTelemetrySample("attitude", 3))

	ev := <-ch
	marker, ok := ev.(coalescedMarker)
	if !ok {
		t.Fatalf("expected coalescedMarker, got %T", ev)
	}
	resolved := marker.Resolve()
	sample, ok := resolved.(TelemetrySample)
	if !ok {
		t.Fatalf("expected TelemetrySample, got %T", resolved)
	}
	if sample.Payload.(int) != 3 {
		t.Fatalf("expected to resolve to the newest sample (3), got %v", sample.Payload)
	}
}

func TestNonTelemetryNeverCoalesced(t *testing.T) {
	bus := New(nil)
	ch, token := bus.Subscribe(SubscribeOptions{
		BufferSize: 4,
		LatestOnly: map[string]bool{"attitude": true},
	})
	defer bus.Unsubscribe(token)

	ctx := context.Background()
	bus.Publish(ctx, NewCrcError("mavlink"))
	bus.Publish(ctx, NewCrcError("msp"))

	first := <-ch
	second := <-ch
	if first.(CrcError).Protocol != "mavlink" || second.(CrcError).Protocol != "msp" {
		t.Fatalf("non-telemetry events must be delivered in full and in order")
	}
}
