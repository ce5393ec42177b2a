package i2s

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/i2score/internal/logger"
	"github.com/tphakala/i2score/internal/testutil"
)

// nextItf hands every test its own interface id so parallel tests never collide in the open registry.
var nextItf atomic.Int64

func testConfig() DeviceConfig {
	cfg := DefaultDeviceConfig()
	cfg.Itf = int(nextItf.Add(1))
	cfg.BlockSize = 256
	return cfg
}

func openTestDevice(t *testing.T, cfg DeviceConfig) *Device {
	t.Helper()
	d, err := Open(cfg, WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func tick(t *testing.T, d *Device) {
	t.Helper()
	require.NoError(t, d.TransferComplete(TransferEvent{}))
}

// stamp fills every rotating block with a per-channel counter so tests can check order.
type stamp struct {
	next map[int]byte
}

func newStamp() *stamp {
	return &stamp{next: make(map[int]byte)}
}

func (s *stamp) transfer(ch, _ int, block []byte) {
	v := s.next[ch]
	for i := range block {
		block[i] = v
	}
	s.next[ch] = v + 1
}

func readNow(t *testing.T, d *Device) Completion {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testutil.DefaultTestTimeout)
	defer cancel()
	c, err := d.Read(ctx)
	require.NoError(t, err)
	return c
}

func readChannelNow(t *testing.T, d *Device, id int) Completion {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testutil.DefaultTestTimeout)
	defer cancel()
	c, err := d.ReadChannel(ctx, id)
	require.NoError(t, err)
	return c
}

// requireEmpty asserts the channel has nothing queued.
func requireEmpty(t *testing.T, d *Device, id int) {
	t.Helper()
	require.Equal(t, 0, d.channels[id].queue.Len(), "channel %d should have no queued completions", id)
}
