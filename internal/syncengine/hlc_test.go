package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHLC_StringParseRoundTrip(t *testing.T) {
	h := HLC{PhysicalMS: 1700000000123, Counter: 7, DeviceUUID: "device-a"}

	parsed, err := ParseHLC(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParseHLC_RejectsMalformed(t *testing.T) {
	_, err := ParseHLC("not-an-hlc")
	assert.Error(t, err)
}

func TestHLC_CompareOrdersByPhysicalMSThenCounterThenDevice(t *testing.T) {
	a := HLC{PhysicalMS: 100, Counter: 0, DeviceUUID: "a"}
	b := HLC{PhysicalMS: 200, Counter: 0, DeviceUUID: "a"}
	assert.True(t, a.Before(b))
	assert.Equal(t, -1, a.Compare(b))

	c := HLC{PhysicalMS: 100, Counter: 1, DeviceUUID: "a"}
	assert.True(t, a.Before(c))

	d := HLC{PhysicalMS: 100, Counter: 0, DeviceUUID: "z"}
	assert.True(t, a.Before(d))

	assert.Equal(t, 0, a.Compare(a))
}

func TestClock_TickAdvancesWithinSameMillisecond(t *testing.T) {
	c := NewClock("device-a")
	now := time.UnixMilli(1700000000000)

	first := c.Tick(now)
	second := c.Tick(now)

	assert.Equal(t, first.PhysicalMS, second.PhysicalMS)
	assert.Equal(t, first.Counter+1, second.Counter)
	assert.True(t, first.Before(second))
}

func TestClock_TickAdvancesAcrossMilliseconds(t *testing.T) {
	c := NewClock("device-a")

	first := c.Tick(time.UnixMilli(1000))
	second := c.Tick(time.UnixMilli(2000))

	assert.Less(t, first.PhysicalMS, second.PhysicalMS)
	assert.Equal(t, uint32(0), second.Counter)
}

func TestClock_ObserveAdvancesPastFutureRemoteTick(t *testing.T) {
	c := NewClock("device-a")

	remote := HLC{PhysicalMS: 5000, Counter: 3, DeviceUUID: "device-b"}
	c.Observe(remote, time.UnixMilli(1000))

	next := c.Tick(time.UnixMilli(1000))
	assert.True(t, remote.Before(next))
}

func TestClock_ObserveMergesSameMillisecondCounter(t *testing.T) {
	c := NewClock("device-a")

	now := time.UnixMilli(1000)
	c.Tick(now)

	remote := HLC{PhysicalMS: 1000, Counter: 9, DeviceUUID: "device-b"}
	c.Observe(remote, now)

	next := c.Tick(now)
	assert.Equal(t, uint32(11), next.Counter)
}
