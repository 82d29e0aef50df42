package transport

import (
	"context"
	"time"

	"go.bug.st/serial/enumerator"
)

// PollInterval is how often WatchDisappearance diffs the port list against
// the one active port it's tracking.
const PollInterval = 500 * time.Millisecond

// Enumerate lists every serial/USB-CDC port the OS currently exposes, with
// VID/PID/manufacturer detail when the platform can supply it.
func Enumerate() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, newError(KindIoError, "enumerate", err)
	}

	out := make([]PortInfo, 0, len(details))
	for _, d := range details {
		info := PortInfo{Path: d.Name}
		if d.IsUSB {
			info.VendorID = d.VID
			info.ProductID = d.PID
			info.Manufacturer = d.Product
		}
		out = append(out, info)
	}
	return out, nil
}

// WatchDisappearance polls the port list for target and invokes onGone
// exactly once, the first time target's (path, vid, pid) key is no longer
// present. It returns when ctx is cancelled or onGone has fired.
//
// This is the only place in the system that learns about a surprise
// USB unplug: the Transport itself just gets a Read/Write error, which
// looks identical to a transient driver hiccup, so detection relies on
// enumeration instead of Read's return value.
func WatchDisappearance(ctx context.Context, target PortInfo, onGone func()) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	key := target.Key()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ports, err := Enumerate()
			if err != nil {
				continue
			}
			if !containsKey(ports, key) {
				onGone()
				return
			}
		}
	}
}

func containsKey(ports []PortInfo, key string) bool {
	for _, p := range ports {
		if p.Key() == key {
			return true
		}
	}
	return false
}
