package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintlink/catalog"
	"maintlink/config"
	"maintlink/s7"
)

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"wrapped eof", fmt.Errorf("read DB1: %w", io.EOF), true},
		{"net closed", net.ErrClosed, true},
		{"refused", syscall.ECONNREFUSED, true},
		{"op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("boom")}, true},
		{"not connected", s7.ErrNotConnected, true},
		{"deadline", context.DeadlineExceeded, true},
		{"message", errors.New("write tcp: broken pipe"), true},
		{"read error wraps", &s7.ReadError{DB: 1, Size: 2, Err: io.EOF}, true},
		{"access denied", errors.New("S7 access error (code 5)"), false},
		{"address", &s7.AddressError{Address: "x", Reason: "bad"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionError(tt.err))
		})
	}
}

func TestOpenUnknownFamily(t *testing.T) {
	_, err := Open(context.Background(), config.PLCConfig{Family: "logix"})
	assert.ErrorIs(t, err, ErrUnknownFamily)
}

func TestDialModbusNeedsMapping(t *testing.T) {
	_, err := DialModbus(context.Background(), config.PLCConfig{Host: "127.0.0.1", Port: 502})
	assert.Error(t, err)
}

func TestRegisterWindow(t *testing.T) {
	blocks := map[int]int{1: 0, 6: 100}

	first, qty, base, err := registerWindow(blocks, 1, 0, 59)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), first)
	assert.Equal(t, uint16(30), qty)
	assert.Equal(t, 0, base)

	// odd start byte shares a register with the byte before it
	first, qty, base, err = registerWindow(blocks, 1, 31, 4)
	require.NoError(t, err)
	assert.Equal(t, uint16(15), first)
	assert.Equal(t, uint16(3), qty)
	assert.Equal(t, 30, base)

	first, qty, _, err = registerWindow(blocks, 6, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), first)
	assert.Equal(t, uint16(1), qty)

	_, _, _, err = registerWindow(blocks, 9, 0, 1)
	assert.Error(t, err)
}

func TestPatch(t *testing.T) {
	buf := []byte{0x00, 0xF0}
	require.NoError(t, patch(buf, 58, s7.MustParseItem("DB1,X59.0"), true))
	assert.Equal(t, []byte{0x00, 0xF1}, buf)
	require.NoError(t, patch(buf, 58, s7.MustParseItem("DB1,X59.4"), false))
	assert.Equal(t, []byte{0x00, 0xE1}, buf)

	assert.Error(t, patch(buf, 58, s7.MustParseItem("DB1,X58.0"), 1))
	assert.Error(t, patch(buf, 58, s7.MustParseItem("DB1,X60.0"), true))

	words := make([]byte, 4)
	require.NoError(t, patch(words, 30, s7.MustParseItem("DB1,INT30"), int16(-2)))
	assert.Equal(t, []byte{0xFF, 0xFE, 0, 0}, words)
}

func TestSimulatorEndpoint(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()

	ep, err := sim.Dial(ctx, config.PLCConfig{Host: "sim"})
	require.NoError(t, err)

	items := catalog.Default().Items()
	vals, err := ep.Read(ctx, items)
	require.NoError(t, err)
	assert.Len(t, vals, len(items))
	assert.Equal(t, false, vals["DB6,X0.0"])

	// Digital input A0 drives the emergency-stop fault.
	require.NoError(t, sim.Set("DB1,X2.0", true))
	vals, err = ep.Read(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, true, vals["DB6,X0.0"])

	require.NoError(t, ep.Write(ctx, s7.MustParseItem("DB1,X58.0"), true))
	v, err := sim.Get("DB1,X58.0")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	scaled, ok := vals["DB1,REAL32"].(float32)
	require.True(t, ok)
	assert.True(t, scaled >= 0 && scaled <= 100, "scaled AI0 %v out of range", scaled)

	require.NoError(t, ep.Close())
	_, err = ep.Read(ctx, items)
	assert.ErrorIs(t, err, s7.ErrNotConnected)
}

func TestSimulatorFaultReset(t *testing.T) {
	sim := NewSimulator()
	require.NoError(t, sim.Set("DB6,X1.2", true))
	require.NoError(t, sim.Set("DB1,X0.1", true))

	ep, err := sim.Dial(context.Background(), config.PLCConfig{})
	require.NoError(t, err)
	vals, err := ep.Read(context.Background(), []s7.Item{
		s7.MustParseItem("DB6,X1.2"),
		s7.MustParseItem("DB1,X0.1"),
	})
	require.NoError(t, err)
	assert.Equal(t, false, vals["DB6,X1.2"])
	assert.Equal(t, false, vals["DB1,X0.1"], "fault reset releases itself")
}

func TestSimulatorFailure(t *testing.T) {
	sim := NewSimulator()
	ctx := context.Background()

	ep, err := sim.Dial(ctx, config.PLCConfig{})
	require.NoError(t, err)

	sim.SetFailure(io.EOF)
	_, err = sim.Dial(ctx, config.PLCConfig{})
	assert.ErrorIs(t, err, io.EOF)
	_, err = ep.Read(ctx, catalog.Default().Items())
	assert.True(t, IsConnectionError(err))

	sim.SetFailure(nil)
	_, err = ep.Read(ctx, catalog.Default().Items())
	assert.NoError(t, err)

	cctx, cancel := context.WithTimeout(ctx, time.Nanosecond)
	defer cancel()
	<-cctx.Done()
	_, err = sim.Dial(cctx, config.PLCConfig{})
	assert.Error(t, err)
}
