// Package i2s implements the streaming core behind an I2S peripheral: buffer
// pools, per-channel completion queues, the transfer engine that rotates
// blocks on every hardware completion and the STOPPED/RUNNING control state.
//
// One producer goroutine stands in for the hardware completion context and
// calls TransferComplete; any number of consumer goroutines read completed
// blocks with Read, ReadChannel or the asynchronous ReadAsync variants and
// hand them back with Completion.Release.
package i2s

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tphakala/i2score/internal/logger"
	"github.com/tphakala/i2score/internal/observability/metrics"
)

// openInterfaces tracks which interface ids are in use by an open device.
var openInterfaces sync.Map // map[int]*Device

// Device is an opened I2S interface.
type Device struct {
	id  string
	cfg DeviceConfig

	mu       sync.Mutex
	channels []*channel // indexed by channel id
	running  atomic.Bool

	closed   atomic.Bool
	closeErr error
	fault    atomic.Pointer[failure]

	log     logger.Logger
	metrics *metrics.I2SMetrics
}

// Option customizes a Device at Open.
type Option func(*Device)

// WithLogger sets the logger. The default is the global logger's "i2s" module.
func WithLogger(l logger.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics records per-channel counters into m.
func WithMetrics(m *metrics.I2SMetrics) Option {
	return func(d *Device) {
		d.metrics = m
	}
}

// WithID overrides the generated instance id used in logs and metric labels.
func WithID(id string) Option {
	return func(d *Device) {
		if id != "" {
			d.id = id
		}
	}
}

// GetLogger returns the i2s logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}

// Open validates cfg and allocates the channels, pools and queues. It fails
// with ErrInvalidConfig or, when cfg.Itf is already open, ErrInterfaceBusy.
// The device starts STOPPED.
func Open(cfg DeviceConfig, opts ...Option) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		id:  uuid.NewString(),
		cfg: cfg,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = GetLogger()
	}
	d.log = d.log.With(logger.String("device_id", d.id), logger.Int("itf", cfg.Itf))

	if _, loaded := openInterfaces.LoadOrStore(cfg.Itf, d); loaded {
		return nil, resourceError(ErrInterfaceBusy, "open", cfg.Itf)
	}

	count := 1
	if cfg.TDM {
		count = cfg.Channels
	}
	defaults := cfg.ChannelDefaults()
	d.channels = make([]*channel, count)
	for i := range d.channels {
		d.channels[i] = newChannel(i, defaults, cfg.FrameSize(), d.metrics.Channel(d.id, i))
	}

	d.log.Info("device opened",
		logger.String("direction", cfg.Direction.String()),
		logger.String("format", cfg.Format.String()),
		logger.String("mode", cfg.Mode.String()),
		logger.Bool("tdm", cfg.TDM),
		logger.Int("channels", cfg.Channels),
		logger.Int("word_size", cfg.WordSize),
		logger.Int("block_size", cfg.BlockSize),
		logger.Int("frame_clock_hz", cfg.FrameClockHz))
	return d, nil
}

// Close stops the device and releases its interface. Blocked reads and
// registered tasks fail with ErrDeviceClosed. Close is idempotent.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		return nil
	}
	d.closeErr = closedError(d.cfg.Itf)
	d.closed.Store(true)
	d.running.Store(false)

	for _, ch := range d.channels {
		ch.queue.fail(d.closeErr)
		ch.metrics.SetState(metrics.StateStopped)
	}
	openInterfaces.CompareAndDelete(d.cfg.Itf, d)

	d.log.Info("device closed")
	return nil
}

// terminalErr returns the close or fault error once the device can no longer stream.
func (d *Device) terminalErr() error {
	if d.closed.Load() {
		return d.closeErr
	}
	if f := d.fault.Load(); f != nil {
		return f.err
	}
	return nil
}

// Err returns the fault or close error, or nil while the device is usable.
func (d *Device) Err() error {
	return d.terminalErr()
}

// ID returns the instance id.
func (d *Device) ID() string {
	return d.id
}

// Config returns the configuration the device was opened with.
func (d *Device) Config() DeviceConfig {
	return d.cfg
}

// NumChannels returns the number of logical channels: cfg.Channels in TDM mode, otherwise 1.
func (d *Device) NumChannels() int {
	return len(d.channels)
}

// FrameSize returns the frame size of channel id's stream.
func (d *Device) FrameSize(id int) int {
	if id < 0 || id >= len(d.channels) {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[id].frameSize
}

// Read blocks until the implicit channel has a completed block. It is only
// valid in non-TDM mode.
func (d *Device) Read(ctx context.Context) (Completion, error) {
	if d.cfg.TDM {
		return Completion{}, usageError(ErrTDM, "read", 0)
	}
	return d.read(ctx, 0)
}

// ReadChannel blocks until TDM channel id has a completed block.
func (d *Device) ReadChannel(ctx context.Context, id int) (Completion, error) {
	if !d.cfg.TDM {
		return Completion{}, usageError(ErrNotTDM, "read", id)
	}
	if id < 0 || id >= len(d.channels) {
		return Completion{}, usageError(ErrInvalidChannel, "read", id)
	}
	return d.read(ctx, id)
}

func (d *Device) read(ctx context.Context, id int) (Completion, error) {
	c, err := d.channels[id].queue.pop(ctx)
	if err != nil && ctx.Err() == nil {
		d.metrics.RecordReadError(d.id, id, errorCategory(err))
	}
	return c, err
}

// ReadAsync registers a task resolved by the next completion of the implicit channel.
func (d *Device) ReadAsync() (*Task, error) {
	if d.cfg.TDM {
		return nil, usageError(ErrTDM, "read_async", 0)
	}
	return d.readAsync(0)
}

// ReadChannelAsync registers a task resolved by the next completion of TDM channel id.
func (d *Device) ReadChannelAsync(id int) (*Task, error) {
	if !d.cfg.TDM {
		return nil, usageError(ErrNotTDM, "read_async", id)
	}
	if id < 0 || id >= len(d.channels) {
		return nil, usageError(ErrInvalidChannel, "read_async", id)
	}
	return d.readAsync(id)
}

func (d *Device) readAsync(id int) (*Task, error) {
	t := newTask(id)
	if err := d.channels[id].queue.register(t); err != nil {
		return nil, err
	}
	return t, nil
}

// ReadStatus returns the result of a resolved task without blocking. It fails
// with ErrTaskPending before the task is resolved.
func (d *Device) ReadStatus(t *Task) (Completion, error) {
	if t == nil {
		return Completion{}, usageError(ErrTaskPending, "read_status", -1)
	}
	return t.Status()
}

// DeviceStatus is a point-in-time view of the device for status endpoints.
type DeviceStatus struct {
	ID        string         `json:"id"`
	Itf       int            `json:"itf"`
	State     State          `json:"state"`
	Direction string         `json:"direction"`
	Format    string         `json:"format"`
	TDM       bool           `json:"tdm"`
	Error     string         `json:"error,omitempty"`
	Channels  []ChannelStats `json:"channels"`
}

// Status snapshots device and channel counters.
func (d *Device) Status() DeviceStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := DeviceStatus{
		ID:        d.id,
		Itf:       d.cfg.Itf,
		State:     d.State(),
		Direction: d.cfg.Direction.String(),
		Format:    d.cfg.Format.String(),
		TDM:       d.cfg.TDM,
		Channels:  make([]ChannelStats, len(d.channels)),
	}
	if err := d.terminalErr(); err != nil {
		st.Error = err.Error()
	}
	for i, ch := range d.channels {
		st.Channels[i] = ch.stats()
		if st.Error != "" {
			st.Channels[i].State = Stopped
		}
	}
	return st
}
