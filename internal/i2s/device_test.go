package i2s

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/i2score/internal/errors"
	"github.com/tphakala/i2score/internal/testutil"
)

func TestScenarioTwoEventsTwoReads(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Mode = Slab
	cfg.SlabBlocks = 4
	cfg.Channels = 2
	cfg.WordSize = 16
	d := openTestDevice(t, cfg)

	require.NoError(t, d.Start())
	tick(t, d)
	tick(t, d)

	first := readNow(t, d)
	assert.Equal(t, 256, first.Size)
	assert.Equal(t, uint64(0), first.Seq)
	assert.Zero(t, first.Dropped)

	second := readNow(t, d)
	assert.Equal(t, 256, second.Size)
	assert.Equal(t, uint64(1), second.Seq)
	assert.NotSame(t, first.Block, second.Block)
}

func TestScenarioTDMOnlyEnabledChannelCompletes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TDM = true
	cfg.Channels = 3
	d := openTestDevice(t, cfg)

	require.NoError(t, d.EnableChannel(1))
	require.NoError(t, d.Start())

	for cycle := range 3 {
		tick(t, d)
		requireEmpty(t, d, 0)
		requireEmpty(t, d, 2)
		require.Equal(t, 1, d.channels[1].queue.Len(), "cycle %d", cycle)

		c := readChannelNow(t, d, 1)
		assert.Equal(t, 1, c.Channel)
		assert.Equal(t, uint64(cycle), c.Seq)
		require.NoError(t, c.Release())
	}

	st := d.Status()
	assert.Equal(t, uint64(3), st.Channels[0].IgnoredTicks)
	assert.Equal(t, uint64(3), st.Channels[1].Completions)
}

func TestScenarioStopMidBlockDeliversInFlight(t *testing.T) {
	t.Parallel()

	d := openTestDevice(t, testConfig())
	s := newStamp()

	require.NoError(t, d.Start())
	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: s.transfer}))
	c := readNow(t, d)
	require.NoError(t, c.Release())

	require.NoError(t, d.Stop())
	assert.Equal(t, Running, d.State(), "stop takes effect at the block boundary")

	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: s.transfer}))
	final := readNow(t, d)
	assert.Equal(t, 256, final.Size)
	assert.Equal(t, byte(1), final.Data()[0], "the in-flight block is delivered")
	require.NoError(t, final.Release())
	assert.Equal(t, Stopped, d.State())

	for range 3 {
		tick(t, d)
	}
	requireEmpty(t, d, 0)
	assert.Equal(t, uint64(3), d.Status().Channels[0].IgnoredTicks)

	require.NoError(t, d.Start())
	tick(t, d)
	assert.Equal(t, uint64(2), readNow(t, d).Seq)
}

func TestScenarioAsyncTaskResolvedByNextEvent(t *testing.T) {
	t.Parallel()

	d := openTestDevice(t, testConfig())
	require.NoError(t, d.Start())

	task, err := d.ReadAsync()
	require.NoError(t, err)

	_, err = d.ReadStatus(task)
	require.ErrorIs(t, err, ErrTaskPending)
	assert.True(t, errors.IsUsage(err))

	tick(t, d)

	c, err := d.ReadStatus(task)
	require.NoError(t, err)
	assert.Equal(t, 256, c.Size)
	requireEmpty(t, d, 0)
}

func TestFIFONoLossNoDuplication(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Mode = Slab
	cfg.SlabBlocks = 8
	d := openTestDevice(t, cfg)
	s := newStamp()
	require.NoError(t, d.Start())

	type seen struct {
		seq     uint64
		size    int
		dropped int
	}
	const events = 200
	got := make(chan seen, events)
	done := testutil.RunAsync(func() {
		for range events {
			c, err := d.Read(context.Background())
			if err != nil {
				return
			}
			got <- seen{seq: c.Seq, size: c.Size, dropped: c.Dropped}
			_ = c.Release()
		}
	})

	produced := 0
	for produced < events {
		before := d.channels[0].completions.Load()
		require.NoError(t, d.TransferComplete(TransferEvent{Transfer: s.transfer}))
		if d.channels[0].completions.Load() > before {
			produced++
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	testutil.WaitForChannel(t, done, testutil.DefaultTestTimeout, "reader did not drain all completions")
	close(got)

	var want uint64
	for c := range got {
		require.Equal(t, want, c.seq)
		assert.Equal(t, 256, c.size)
		assert.Zero(t, c.dropped%256)
		want++
	}
	assert.Equal(t, uint64(events), want)
}

func TestPingPongStrictAlternation(t *testing.T) {
	t.Parallel()

	d := openTestDevice(t, testConfig())
	require.NoError(t, d.Start())

	var prev *Block
	for i := range 10 {
		tick(t, d)
		c := readNow(t, d)
		if prev != nil {
			assert.NotSame(t, prev, c.Block, "completion %d repeats the previous block", i)
		}
		assert.Equal(t, i%2, c.Block.Index())
		prev = c.Block
		require.NoError(t, c.Release())
	}
}

func TestScenarioPingPongTwoEventsTwoReads(t *testing.T) {
	t.Parallel()

	d := openTestDevice(t, testConfig())
	require.NoError(t, d.Start())
	tick(t, d)
	tick(t, d)

	first := readNow(t, d)
	assert.Equal(t, 256, first.Size)
	assert.Equal(t, uint64(0), first.Seq)
	assert.Equal(t, 0, first.Block.Index())
	assert.Zero(t, first.Dropped)

	second := readNow(t, d)
	assert.Equal(t, 256, second.Size)
	assert.Equal(t, uint64(1), second.Seq)
	assert.Equal(t, 1, second.Block.Index())
	assert.Zero(t, second.Dropped)

	st := d.Status().Channels[0]
	assert.Zero(t, st.Overruns)
	assert.Zero(t, st.Overwrites)
	require.NoError(t, first.Release())
	require.NoError(t, second.Release())
}

func TestPingPongOverwritesBlockHeldTooLong(t *testing.T) {
	t.Parallel()

	d := openTestDevice(t, testConfig())
	s := newStamp()
	require.NoError(t, d.Start())

	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: s.transfer}))
	held := readNow(t, d)
	require.Equal(t, byte(0), held.Data()[0])

	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: s.transfer}))
	require.NoError(t, readNow(t, d).Release())
	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: s.transfer}))

	st := d.Status().Channels[0]
	assert.Equal(t, uint64(1), st.Overwrites)
	assert.Zero(t, st.Overruns, "ping-pong never runs out of blocks")
	assert.Equal(t, byte(2), held.Data()[0], "the hardware refilled the held block")

	require.NoError(t, held.Release(), "releasing a refilled delivery is harmless")
	latest := readNow(t, d)
	assert.Same(t, held.Block, latest.Block)
	assert.Equal(t, uint64(2), latest.Seq)
	require.NoError(t, latest.Release())
	require.ErrorIs(t, latest.Release(), ErrBlockReleased)
}

func TestExhaustionReportsDroppedBytes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Mode = Slab
	cfg.SlabBlocks = 2
	d := openTestDevice(t, cfg)
	require.NoError(t, d.Start())

	tick(t, d) // A completes, B becomes active
	a := readNow(t, d)

	// A is held by its consumer: no block to rotate into
	tick(t, d)
	tick(t, d)
	requireEmpty(t, d, 0)
	st := d.Status().Channels[0]
	assert.Equal(t, uint64(2), st.Overruns)
	assert.Equal(t, uint64(512), st.DroppedBytes)

	require.NoError(t, a.Release())
	tick(t, d)

	b := readNow(t, d)
	assert.Equal(t, 1, b.Block.Index())
	assert.Equal(t, 512, b.Dropped, "the next completion reports the lost windows")
	assert.Equal(t, uint64(1), b.Seq)
	require.NoError(t, b.Release())

	tick(t, d)
	c := readNow(t, d)
	assert.Zero(t, c.Dropped)
	assert.Equal(t, 0, c.Block.Index())
}

func TestStartCancelsPendingStop(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TDM = true
	cfg.Channels = 2
	cfg.Mode = Slab
	cfg.SlabBlocks = 4
	d := openTestDevice(t, cfg)
	require.NoError(t, d.EnableChannel(0))
	require.NoError(t, d.EnableChannel(1))

	var order []int
	record := func(ch, _ int, _ []byte) { order = append(order, ch) }

	require.NoError(t, d.Start())
	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: record}))
	require.NoError(t, d.Stop())
	require.NoError(t, d.Start())
	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: record}))
	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: record}))

	assert.Equal(t, Running, d.State())
	assert.Equal(t, []int{0, 1, 0, 1, 0, 1}, order, "channels rotate in ascending order")
	for id := range 2 {
		for seq := range 3 {
			c := readChannelNow(t, d, id)
			assert.Equal(t, uint64(seq), c.Seq)
			assert.Equal(t, 256, c.Size)
			require.NoError(t, c.Release())
		}
	}
}

func TestStartAfterCommittedStopReArms(t *testing.T) {
	t.Parallel()

	d := openTestDevice(t, testConfig())
	require.NoError(t, d.Start())
	require.NoError(t, d.Start(), "start is idempotent")
	tick(t, d)

	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop(), "stop is idempotent")
	tick(t, d)
	require.Equal(t, Stopped, d.State())

	first := readNow(t, d)
	require.NoError(t, first.Release())
	last := readNow(t, d)
	require.NoError(t, last.Release())

	require.NoError(t, d.Start())
	tick(t, d)
	c := readNow(t, d)
	assert.Equal(t, uint64(2), c.Seq)
	assert.NotSame(t, last.Block, c.Block, "ping-pong alternation survives stop and start")
}

func TestStopBeforeFirstEventDisarms(t *testing.T) {
	t.Parallel()

	d := openTestDevice(t, testConfig())
	require.NoError(t, d.Start())
	require.NoError(t, d.Stop())
	assert.Equal(t, Stopped, d.State())
	assert.Equal(t, 2, d.channels[0].pool.Available())

	tick(t, d)
	requireEmpty(t, d, 0)
}

func TestShortTransferIsFinal(t *testing.T) {
	t.Parallel()

	d := openTestDevice(t, testConfig())
	require.NoError(t, d.Start())

	require.NoError(t, d.TransferComplete(TransferEvent{Frames: 10}))
	c := readNow(t, d)
	assert.Equal(t, 40, c.Size, "10 frames of 2×16 bit")
	assert.Len(t, c.Data(), 40)
	assert.Equal(t, Stopped, d.State())

	tick(t, d)
	requireEmpty(t, d, 0)
}

func TestShortTransferCountsWholeFrames(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Channels = 3
	cfg.WordSize = 24
	cfg.BlockSize = 240
	d := openTestDevice(t, cfg)
	assert.Equal(t, 12, d.FrameSize(0))
	require.NoError(t, d.Start())

	var frameSize int
	hook := func(_, fs int, _ []byte) { frameSize = fs }
	require.NoError(t, d.TransferComplete(TransferEvent{Frames: 5, Transfer: hook}))
	assert.Equal(t, 12, frameSize, "a frame spans every slot")

	c := readNow(t, d)
	assert.Equal(t, 60, c.Size)
	require.NoError(t, c.Release())
}

func TestStoppedTXChannelIsNotDrained(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Direction = TX
	d := openTestDevice(t, cfg)

	calls := 0
	drain := func(_, _ int, _ []byte) { calls++ }
	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: drain}))
	assert.Zero(t, calls)
	assert.Equal(t, uint64(1), d.Status().Channels[0].IgnoredTicks)

	require.NoError(t, d.Start())
	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: drain}))
	assert.Equal(t, 1, calls)
}

func TestStartFailsWhenPoolExhausted(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Mode = Slab
	cfg.SlabBlocks = 2
	d := openTestDevice(t, cfg)

	require.NoError(t, d.Start())
	tick(t, d)
	held := readNow(t, d)
	require.NoError(t, d.Stop())
	tick(t, d)
	held2 := readNow(t, d)

	err := d.Start()
	require.ErrorIs(t, err, ErrPoolExhausted)
	assert.True(t, errors.IsCategory(err, errors.CategoryResource))
	assert.Equal(t, Stopped, d.State())

	require.NoError(t, held.Release())
	require.NoError(t, held2.Release())
	require.NoError(t, d.Start())
}

func TestEnableOnRunningDeviceJoinsNextCycle(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TDM = true
	cfg.Channels = 2
	d := openTestDevice(t, cfg)
	require.NoError(t, d.EnableChannel(0))
	require.NoError(t, d.Start())

	var order []int
	record := func(ch, _ int, _ []byte) { order = append(order, ch) }
	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: record}))
	require.NoError(t, d.EnableChannel(1))
	st, err := d.ChannelState(1)
	require.NoError(t, err)
	assert.Equal(t, Running, st, "an armed channel reports running")
	requireEmpty(t, d, 1)

	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: record}))
	assert.Equal(t, []int{0, 0, 1}, order)
	assert.Equal(t, 1, d.channels[1].queue.Len())
}

func TestDisableChannelStopsAtBoundary(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TDM = true
	cfg.Channels = 2
	d := openTestDevice(t, cfg)
	require.NoError(t, d.EnableChannel(0))
	require.NoError(t, d.EnableChannel(1))
	require.NoError(t, d.Start())
	tick(t, d)

	require.NoError(t, d.DisableChannel(1))
	st, _ := d.ChannelState(1)
	assert.Equal(t, Running, st)

	tick(t, d)
	st, _ = d.ChannelState(1)
	assert.Equal(t, Stopped, st)
	assert.Equal(t, 2, d.channels[1].queue.Len(), "the in-flight block was delivered")

	tick(t, d)
	assert.Equal(t, 2, d.channels[1].queue.Len())
	assert.Equal(t, Running, d.State(), "other channels keep running")
}

func TestConfigureChannel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TDM = true
	cfg.Channels = 2
	d := openTestDevice(t, cfg)

	cc := ChannelConfig{WordSize: 24, Flags: SignExtend, Mode: Slab, BlockSize: 120, SlabBlocks: 3, Enabled: true}
	require.NoError(t, d.ConfigureChannel(1, cc))

	got, err := d.ChannelConfig(1)
	require.NoError(t, err)
	assert.Equal(t, cc, got)
	assert.Equal(t, 4, d.FrameSize(1))

	bad := cc
	bad.BlockSize = 122
	err = d.ConfigureChannel(1, bad)
	require.ErrorIs(t, err, ErrInvalidConfig)
	got, _ = d.ChannelConfig(1)
	assert.Equal(t, 120, got.BlockSize, "nothing committed on error")

	require.NoError(t, d.Start())
	err = d.ConfigureChannel(1, cc)
	require.ErrorIs(t, err, ErrChannelBusy)

	tick(t, d)
	c := readChannelNow(t, d, 1)
	assert.Equal(t, 120, c.Size)
	require.NoError(t, c.Release())

	require.NoError(t, d.Stop())
	tick(t, d)
	require.ErrorIs(t, d.ConfigureChannel(1, cc), ErrChannelBusy, "queue not drained")
	require.NoError(t, readChannelNow(t, d, 1).Release())
	require.NoError(t, d.ConfigureChannel(1, cc))
}

func TestConfigureChannelWaitsForHeldBlocks(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TDM = true
	cfg.Channels = 2
	d := openTestDevice(t, cfg)

	cc := ChannelConfig{WordSize: 16, Mode: Slab, BlockSize: 128, SlabBlocks: 3, Enabled: true}
	require.NoError(t, d.ConfigureChannel(1, cc))
	require.NoError(t, d.Start())
	tick(t, d)
	held := readChannelNow(t, d, 1)

	require.NoError(t, d.Stop())
	tick(t, d)
	require.NoError(t, readChannelNow(t, d, 1).Release())
	requireEmpty(t, d, 1)

	cc.BlockSize = 64
	require.ErrorIs(t, d.ConfigureChannel(1, cc), ErrChannelBusy, "a consumer still holds a block")
	got, _ := d.ChannelConfig(1)
	assert.Equal(t, 128, got.BlockSize)

	require.NoError(t, held.Release())
	require.NoError(t, d.ConfigureChannel(1, cc))
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()

	d := openTestDevice(t, testConfig())
	ctx := context.Background()

	_, err := d.ReadChannel(ctx, 0)
	require.ErrorIs(t, err, ErrNotTDM)
	_, err = d.ReadChannelAsync(0)
	require.ErrorIs(t, err, ErrNotTDM)
	require.ErrorIs(t, d.EnableChannel(0), ErrNotTDM)
	require.ErrorIs(t, d.ConfigureChannel(0, ChannelConfig{}), ErrNotTDM)
	_, err = d.ChannelState(5)
	require.ErrorIs(t, err, ErrInvalidChannel)

	tdmCfg := testConfig()
	tdmCfg.TDM = true
	tdmCfg.Channels = 2
	tdm := openTestDevice(t, tdmCfg)

	_, err = tdm.Read(ctx)
	require.ErrorIs(t, err, ErrTDM)
	_, err = tdm.ReadAsync()
	require.ErrorIs(t, err, ErrTDM)
	_, err = tdm.ReadChannel(ctx, 2)
	require.ErrorIs(t, err, ErrInvalidChannel)
	_, err = tdm.ChannelConfig(-1)
	require.ErrorIs(t, err, ErrInvalidChannel)
	assert.True(t, errors.IsUsage(err))

	_, err = d.ReadAsync()
	require.NoError(t, err)
	_, err = d.ReadAsync()
	require.ErrorIs(t, err, ErrTaskOutstanding)

	_, err = d.ReadStatus(nil)
	require.ErrorIs(t, err, ErrTaskPending)
}

func TestOpenRejectsBusyInterface(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	d := openTestDevice(t, cfg)

	_, err := Open(cfg)
	require.ErrorIs(t, err, ErrInterfaceBusy)
	assert.True(t, errors.IsCategory(err, errors.CategoryResource))

	require.NoError(t, d.Close())
	require.NoError(t, d.Close(), "close is idempotent")

	reopened := openTestDevice(t, cfg)
	assert.Equal(t, Stopped, reopened.State(), "a reopened device starts stopped")
	assert.NotEqual(t, d.ID(), reopened.ID())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BlockSize = 255
	_, err := Open(cfg)
	require.ErrorIs(t, err, ErrInvalidConfig)

	// a failed open does not hold the interface
	cfg.BlockSize = 256
	openTestDevice(t, cfg)
}

func TestCloseUnblocksReaderAndTask(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TDM = true
	cfg.Channels = 2
	d := openTestDevice(t, cfg)
	require.NoError(t, d.EnableChannel(0))
	require.NoError(t, d.Start())

	task, err := d.ReadChannelAsync(1)
	require.NoError(t, err)

	var readErr error
	done := testutil.RunAsync(func() {
		_, readErr = d.ReadChannel(context.Background(), 0)
	})
	require.Eventually(t, d.channels[0].queue.reading.Load, testutil.DefaultTestTimeout, time.Millisecond)

	require.NoError(t, d.Close())
	testutil.WaitForChannel(t, done, testutil.DefaultTestTimeout, "blocked read not released by close")
	require.ErrorIs(t, readErr, ErrDeviceClosed)
	assert.True(t, errors.IsCategory(readErr, errors.CategoryState))

	_, err = task.Status()
	require.ErrorIs(t, err, ErrDeviceClosed)

	require.ErrorIs(t, d.TransferComplete(TransferEvent{}), ErrDeviceClosed)
	require.ErrorIs(t, d.Start(), ErrDeviceClosed)
	assert.Equal(t, Stopped, d.State())
}

func TestFaultStopsEverythingAndFailsReaders(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TDM = true
	cfg.Channels = 2
	d := openTestDevice(t, cfg)
	require.NoError(t, d.EnableChannel(0))
	require.NoError(t, d.EnableChannel(1))
	require.NoError(t, d.Start())
	tick(t, d)

	task, err := d.ReadChannelAsync(1)
	require.NoError(t, err) // resolved from the queue
	c, err := task.Status()
	require.NoError(t, err)
	require.NoError(t, c.Release())

	pending, err := d.ReadChannelAsync(1)
	require.NoError(t, err)

	d.Fault(errors.NewStd("dma bus error"))
	d.Fault(errors.NewStd("second fault is ignored"))

	_, err = pending.Status()
	require.ErrorIs(t, err, ErrHardwareFault)
	assert.True(t, errors.IsCategory(err, errors.CategoryHardware))
	assert.Contains(t, err.Error(), "dma bus error")

	_, err = d.ReadChannel(context.Background(), 0)
	require.ErrorIs(t, err, ErrHardwareFault)

	assert.Equal(t, Stopped, d.State())
	for id := range 2 {
		st, err := d.ChannelState(id)
		require.NoError(t, err)
		assert.Equal(t, Stopped, st)
	}
	require.ErrorIs(t, d.TransferComplete(TransferEvent{}), ErrHardwareFault)
	require.ErrorIs(t, d.Start(), ErrHardwareFault)
	require.ErrorIs(t, d.Err(), ErrHardwareFault)
	assert.NotEmpty(t, d.Status().Error)
}

func TestTXBlocksAreDrainedAndRefilled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Direction = TX
	cfg.Mode = Slab
	cfg.SlabBlocks = 3
	d := openTestDevice(t, cfg)
	require.NoError(t, d.Start())

	var played []byte
	drain := func(_, _ int, block []byte) { played = append(played, block[0]) }

	require.NoError(t, d.TransferComplete(TransferEvent{Transfer: drain}))
	c := readNow(t, d)
	for i := range c.Data() {
		c.Data()[i] = 0x5a
	}
	require.NoError(t, c.Release())

	// the refilled block cycles back through the hardware
	for range 3 {
		require.NoError(t, d.TransferComplete(TransferEvent{Transfer: drain}))
		next := readNow(t, d)
		require.NoError(t, next.Release())
	}
	assert.Contains(t, played, byte(0x5a))
}

func TestCompletionReleaseTwiceIsUsageError(t *testing.T) {
	t.Parallel()

	d := openTestDevice(t, testConfig())
	require.NoError(t, d.Start())
	tick(t, d)

	c := readNow(t, d)
	require.NoError(t, c.Release())
	err := c.Release()
	require.ErrorIs(t, err, ErrBlockReleased)
	assert.True(t, errors.IsUsage(err))
	require.ErrorIs(t, Completion{}.Release(), ErrBlockReleased)
}

func TestConcurrentControlProducerAndReader(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Mode = Slab
	cfg.SlabBlocks = 4
	d := openTestDevice(t, cfg)
	require.NoError(t, d.Start())

	stop := make(chan struct{})
	producer := testutil.RunAsync(func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if d.TransferComplete(TransferEvent{}) != nil {
				return
			}
			time.Sleep(50 * time.Microsecond)
		}
	})

	var seqs []uint64
	reader := testutil.RunAsync(func() {
		for {
			c, err := d.Read(context.Background())
			if err != nil {
				return
			}
			seqs = append(seqs, c.Seq)
			_ = c.Release()
		}
	})

	for i := range 200 {
		if i%2 == 0 {
			require.NoError(t, d.Stop())
		} else {
			require.NoError(t, d.Start())
		}
	}
	require.NoError(t, d.Start())

	close(stop)
	testutil.WaitForChannel(t, producer, testutil.DefaultTestTimeout, "producer did not exit")
	require.NoError(t, d.Close())
	testutil.WaitForChannel(t, reader, testutil.DefaultTestTimeout, "reader not released by close")

	for i := 1; i < len(seqs); i++ {
		require.Equal(t, seqs[i-1]+1, seqs[i], "sequence gap at %d", i)
	}
}
