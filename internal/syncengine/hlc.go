// Package syncengine implements §4.6: the two replication styles
// (state-based for device-owned records, shared-change-log for records
// any peer may mutate), the Hybrid Logical Clock that totally orders the
// shared log, the FK↔UUID mapping layer that keeps wire payloads
// schema-stable, and the per-peer sync loop that drives both.
package syncengine

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HLC is a Hybrid Logical Clock value: a physical timestamp, a counter
// that breaks ties within the same millisecond, and the device that
// minted it, which breaks ties deterministically across devices (§4.6
// "HLC = Hybrid Logical Clock (physical_ms, counter, device_uuid);
// comparison lexicographic; device_uuid breaks ties deterministically").
type HLC struct {
	PhysicalMS int64
	Counter    uint32
	DeviceUUID string
}

// String renders an HLC as the sortable `"timestamp|counter|device_uuid"`
// form used as the shared_change_log primary key and wire representation.
// Zero-padding PhysicalMS/Counter keeps lexicographic string comparison
// equivalent to numeric comparison.
func (h HLC) String() string {
	return fmt.Sprintf("%020d|%010d|%s", h.PhysicalMS, h.Counter, h.DeviceUUID)
}

// ParseHLC reverses HLC.String.
func ParseHLC(s string) (HLC, error) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return HLC{}, fmt.Errorf("syncengine: malformed hlc %q", s)
	}

	ms, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return HLC{}, fmt.Errorf("syncengine: malformed hlc physical_ms: %w", err)
	}

	counter, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return HLC{}, fmt.Errorf("syncengine: malformed hlc counter: %w", err)
	}

	return HLC{PhysicalMS: ms, Counter: uint32(counter), DeviceUUID: parts[2]}, nil
}

// Compare orders two HLCs lexicographically by (physical_ms, counter,
// device_uuid), returning -1, 0, or 1 (§4.6, §5 "HLC ordering is total
// across the whole library ... and is the only ordering guarantee for
// conflict resolution").
func (h HLC) Compare(other HLC) int {
	switch {
	case h.PhysicalMS != other.PhysicalMS:
		return cmpInt64(h.PhysicalMS, other.PhysicalMS)
	case h.Counter != other.Counter:
		return cmpInt64(int64(h.Counter), int64(other.Counter))
	default:
		return strings.Compare(h.DeviceUUID, other.DeviceUUID)
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Before reports whether h strictly precedes other.
func (h HLC) Before(other HLC) bool { return h.Compare(other) < 0 }

// Clock generates monotonically advancing HLC values for one device,
// the way a Lamport/hybrid clock must: physical time when it has moved
// forward since the last tick, otherwise the same millisecond with an
// incremented counter, so two ticks within the same device never
// collide.
type Clock struct {
	mu         sync.Mutex
	deviceUUID string
	lastMS     int64
	counter    uint32
}

// NewClock builds a Clock that stamps every tick with deviceUUID.
func NewClock(deviceUUID string) *Clock {
	return &Clock{deviceUUID: deviceUUID}
}

// Tick returns the next HLC for an event happening now.
func (c *Clock) Tick(now time.Time) HLC {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := now.UnixMilli()

	if ms > c.lastMS {
		c.lastMS = ms
		c.counter = 0
	} else {
		c.counter++
	}

	return HLC{PhysicalMS: c.lastMS, Counter: c.counter, DeviceUUID: c.deviceUUID}
}

// Observe merges in an HLC received from a peer, advancing this clock's
// state so a subsequent local Tick always sorts after anything already
// seen — the standard HLC receive-side update rule.
func (c *Clock) Observe(remote HLC, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	localMS := now.UnixMilli()

	switch {
	case remote.PhysicalMS > localMS && remote.PhysicalMS > c.lastMS:
		c.lastMS = remote.PhysicalMS
		c.counter = remote.Counter + 1
	case remote.PhysicalMS == c.lastMS:
		if remote.Counter >= c.counter {
			c.counter = remote.Counter + 1
		}
	case localMS > c.lastMS:
		c.lastMS = localMS
		c.counter = 0
	}
}
