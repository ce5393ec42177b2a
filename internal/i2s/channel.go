package i2s

import (
	"sync/atomic"

	"github.com/tphakala/i2score/internal/logger"
	"github.com/tphakala/i2score/internal/observability/metrics"
)

// channel is one logical stream: its configuration, pool, queue and engine state.
type channel struct {
	id int

	// cfg is guarded by Device.mu. blockSize, frameSize and pool are
	// rewritten only while the channel is stopped and read by the producer
	// only while it owns the channel.
	cfg       ChannelConfig
	blockSize int
	frameSize int
	pool      *Pool

	queue   *completionQueue
	metrics *metrics.ChannelMetrics

	phase atomic.Int32

	// engine state, owned by whoever owns phase
	active  *Block
	next    *Block
	dropped int
	seq     uint64

	completions  atomic.Uint64
	droppedBytes atomic.Uint64
	overruns     atomic.Uint64
	overwrites   atomic.Uint64
	ignoredTicks atomic.Uint64
}

func newChannel(id int, cfg ChannelConfig, frameSize int, m *metrics.ChannelMetrics) *channel {
	ch := &channel{
		id:      id,
		queue:   newCompletionQueue(id, m),
		metrics: m,
	}
	ch.apply(cfg, frameSize)
	m.SetState(metrics.StateStopped)
	return ch
}

// apply installs a validated configuration and a fresh pool. Caller holds Device.mu
// and the channel is stopped.
func (ch *channel) apply(cfg ChannelConfig, frameSize int) {
	ch.cfg = cfg
	ch.blockSize = cfg.BlockSize
	ch.frameSize = frameSize
	ch.pool = NewPool(cfg.Mode, cfg.BlockSize, cfg.SlabBlocks, cfg.Buffers)
}

func (ch *channel) state() State {
	switch ch.phase.Load() {
	case phaseStopped, phaseArming:
		return Stopped
	default:
		return Running
	}
}

// ChannelStats is a point-in-time view of one channel's counters.
type ChannelStats struct {
	Channel      int        `json:"channel"`
	State        State      `json:"state"`
	Enabled      bool       `json:"enabled"`
	WordSize     int        `json:"word_size"`
	BlockSize    int        `json:"block_size"`
	Mode         BufferMode `json:"mode"`
	Completions  uint64     `json:"completions"`
	DroppedBytes uint64     `json:"dropped_bytes"`
	Overruns     uint64     `json:"overruns"`
	Overwrites   uint64     `json:"overwrites"`
	IgnoredTicks uint64     `json:"ignored_ticks"`
	Queued       int        `json:"queued"`
	PoolBlocks   int        `json:"pool_blocks"`
	PoolFree     int        `json:"pool_free"`
}

// stats is called with Device.mu held.
func (ch *channel) stats() ChannelStats {
	return ChannelStats{
		Channel:      ch.id,
		State:        ch.state(),
		Enabled:      ch.cfg.Enabled,
		WordSize:     ch.cfg.WordSize,
		BlockSize:    ch.cfg.BlockSize,
		Mode:         ch.cfg.Mode,
		Completions:  ch.completions.Load(),
		DroppedBytes: ch.droppedBytes.Load(),
		Overruns:     ch.overruns.Load(),
		Overwrites:   ch.overwrites.Load(),
		IgnoredTicks: ch.ignoredTicks.Load(),
		Queued:       ch.queue.Len(),
		PoolBlocks:   ch.pool.Len(),
		PoolFree:     ch.pool.Available(),
	}
}

// ConfigureChannel replaces a TDM channel's configuration. The channel must be
// stopped with an empty queue and no block still held by a consumer; the new configuration is validated against a
// one-word frame and nothing is committed when it is invalid. A configuration
// with Enabled set on a running device arms the channel like EnableChannel.
func (d *Device) ConfigureChannel(id int, cfg ChannelConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, err := d.tdmChannel(id, "configure_channel")
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if ch.phase.Load() != phaseStopped || ch.queue.Len() != 0 || ch.pool.lent() != 0 {
		return usageError(ErrChannelBusy, "configure_channel", id)
	}

	ch.apply(cfg, WordBytes(cfg.WordSize))
	d.log.Info("channel configured",
		logger.Int("channel", id),
		logger.Int("word_size", cfg.WordSize),
		logger.Int("block_size", cfg.BlockSize),
		logger.String("mode", cfg.Mode.String()),
		logger.Bool("enabled", cfg.Enabled))

	if cfg.Enabled && d.running.Load() {
		return d.armLocked(ch, "configure_channel")
	}
	return nil
}

// ChannelConfig returns the current configuration of a TDM channel.
func (d *Device) ChannelConfig(id int) (ChannelConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, err := d.tdmChannel(id, "get_channel_config")
	if err != nil {
		return ChannelConfig{}, err
	}
	return ch.cfg, nil
}

// EnableChannel adds a TDM channel to the rotation. On a running device the
// channel is armed now and joins at the next cycle boundary.
func (d *Device) EnableChannel(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, err := d.tdmChannel(id, "enable_channel")
	if err != nil {
		return err
	}
	ch.cfg.Enabled = true
	if !d.running.Load() {
		return nil
	}
	if err := d.armLocked(ch, "enable_channel"); err != nil {
		ch.cfg.Enabled = false
		return err
	}
	return nil
}

// DisableChannel removes a TDM channel from the rotation. A running channel
// delivers its in-flight block and stops at the next boundary.
func (d *Device) DisableChannel(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, err := d.tdmChannel(id, "disable_channel")
	if err != nil {
		return err
	}
	ch.cfg.Enabled = false
	d.requestStop(ch)
	return nil
}

// tdmChannel resolves id for a TDM-only operation. Caller holds d.mu.
func (d *Device) tdmChannel(id int, op string) (*channel, error) {
	if err := d.terminalErr(); err != nil {
		return nil, err
	}
	if !d.cfg.TDM {
		return nil, usageError(ErrNotTDM, op, id)
	}
	if id < 0 || id >= len(d.channels) {
		return nil, usageError(ErrInvalidChannel, op, id)
	}
	return d.channels[id], nil
}
