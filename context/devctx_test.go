package devctx_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandeepkiranp/pd-linux/config"
	devctx "github.com/sandeepkiranp/pd-linux/context"
	"github.com/sandeepkiranp/pd-linux/device"
	"github.com/sandeepkiranp/pd-linux/ivslot"
)

func testConfig(t *testing.T, key []byte) *config.Config {
	t.Helper()
	cfg, err := config.ParseArgs([]string{
		"aes-cbc-plain", hexString(key), "0", "/dev/fake0", "0",
		"1", "store_data_in_integrity_md:16",
	})
	require.NoError(t, err)
	return cfg
}

func hexString(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}

func TestNewBuildsAFreshUnmappedDevice(t *testing.T) {
	ctx := context.Background()
	dev := device.NewFake(20000)
	cfg := testConfig(t, bytes.Repeat([]byte{0x11}, 32))

	dc, err := devctx.New(ctx, cfg, dev, nil)
	require.NoError(t, err)
	require.Equal(t, 0, dc.Map.Len())
	require.True(t, dc.Pipeline.InFlight() == 0)
}

func TestNewRejectsUnresolvedKey(t *testing.T) {
	ctx := context.Background()
	dev := device.NewFake(20000)
	cfg, err := config.ParseArgs([]string{"aes-cbc-plain", "-", "0", "/dev/fake0", "0"})
	require.NoError(t, err)

	_, err = devctx.New(ctx, cfg, dev, nil)
	require.Error(t, err)
}

func TestHiddenWriteThenReadRoundTripsThroughDevctx(t *testing.T) {
	ctx := context.Background()
	dev := device.NewFake(20000)
	cfg := testConfig(t, bytes.Repeat([]byte{0x22}, 32))

	dc, err := devctx.New(ctx, cfg, dev, nil)
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte{0x7a}, ivslot.SectorSize)
	require.NoError(t, dc.Pipeline.HiddenWrite(ctx, 5, plaintext))

	got, err := dc.Pipeline.HiddenRead(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestRecoveryAfterReopenFindsPriorHiddenWrites(t *testing.T) {
	ctx := context.Background()
	dev := device.NewFake(20000)
	key := bytes.Repeat([]byte{0x33}, 32)
	cfg := testConfig(t, key)

	first, err := devctx.New(ctx, cfg, dev, nil)
	require.NoError(t, err)
	require.NoError(t, first.Pipeline.HiddenWrite(ctx, 7, bytes.Repeat([]byte{0xab}, ivslot.SectorSize)))

	second, err := devctx.New(ctx, testConfig(t, key), dev, nil)
	require.NoError(t, err)

	got, err := second.Pipeline.HiddenRead(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, bytes.Repeat([]byte{0xab}, ivslot.SectorSize), got)
}

func TestApplyControlMessageWipesKey(t *testing.T) {
	ctx := context.Background()
	dev := device.NewFake(20000)
	cfg := testConfig(t, bytes.Repeat([]byte{0x44}, 32))
	dc, err := devctx.New(ctx, cfg, dev, nil)
	require.NoError(t, err)

	msg, err := config.ParseControlMessage([]string{"key", "wipe"})
	require.NoError(t, err)
	dc.ApplyControlMessage(msg)
	require.True(t, dc.Config.Key.None)
}
