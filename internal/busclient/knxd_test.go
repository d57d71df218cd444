package busclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/knxbridge/internal/knx"
	"github.com/nerrad567/knxbridge/internal/knx/knxtest"
)

func TestClientAgainstKNXD(t *testing.T) {
	srv := knxtest.NewServer(t)
	ga := knx.MustParseGroupAddress("2/1/5")
	srv.SetValue(ga, []byte{0x0C, 0x1A}) // 21.0 °C

	c := newTestClient(t, KNXD(srv.Dialer()), Config{})
	sub := &recorder{}
	require.NoError(t, c.Subscribe("2/1/5", sub))
	connect(t, c)

	// Attach triggers the implicit read and a synthetic update.
	require.Eventually(t, func() bool { return sub.synthetic() == 1 }, waitTimeout, tick)
	first := sub.updates()[0]
	assert.Equal(t, knx.Payload{0x0C, 0x1A}, first.Payload)
	v, err := first.Payload.Float(knx.DPTTemperature)
	require.NoError(t, err)
	assert.InDelta(t, 21.0, v, 0.01)

	// knxd echoes our own write to the monitor.
	require.NoError(t, c.Write("2/1/5", knx.DPTTemperature, 22.5).Err(waitCtx(t)))
	require.Eventually(t, func() bool { return len(sub.updates()) == 2 }, waitTimeout, tick)
	echo := sub.updates()[1]
	assert.False(t, echo.Synthetic)
	assert.Equal(t, "1.1.1", echo.Source)
	v, err = echo.Payload.Float(knx.DPTTemperature)
	require.NoError(t, err)
	assert.InDelta(t, 22.5, v, 0.01)

	got, err := c.Read("2/1/5").Wait(waitCtx(t))
	require.NoError(t, err)
	v, err = got.Float(knx.DPTTemperature)
	require.NoError(t, err)
	assert.InDelta(t, 22.5, v, 0.01)

	// read, response, write, read, response
	assert.GreaterOrEqual(t, c.Stats().MonitorTelegrams, uint64(5))

	frames := srv.Frames()
	require.Len(t, frames, 3)
	for _, f := range frames {
		assert.Equal(t, ga, f.Destination)
	}

	// A gateway restart is recovered and the subscription refreshed.
	srv.DropMonitors()
	require.Eventually(t, func() bool { return sub.synthetic() == 2 }, waitTimeout, tick)
	assert.Equal(t, StateAttached, c.State())
	assert.Equal(t, 1, srv.MonitorCount())
}

func TestClientAgainstKNXDRejectedMonitor(t *testing.T) {
	srv := knxtest.NewServer(t)
	srv.RejectNext(knx.EIBOpenGroupCon)

	c := newTestClient(t, KNXD(srv.Dialer()), Config{ConnectTimeout: time.Second})
	err := c.Connect(waitCtx(t))
	require.ErrorIs(t, err, ErrConnect)
	require.ErrorIs(t, err, knx.ErrHandshakeFailed)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClientAgainstKNXDShortFrames(t *testing.T) {
	srv := knxtest.NewServer(t)
	c := newTestClient(t, KNXD(srv.Dialer()), Config{})
	connect(t, c)

	require.NoError(t, c.Write("2/1/6", knx.DPTSwitch, true).Err(waitCtx(t)))
	got, err := c.Read("2/1/6").Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, knx.Payload{0x01}, got)

	on, err := knx.DecodeDPT1(got)
	require.NoError(t, err)
	assert.True(t, on)
}
