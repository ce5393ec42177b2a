// Package hwsim is a software I2S peripheral. It paces completion events at
// the configured frame clock and moves samples through the in-flight blocks
// of an i2s.Device, standing in for the DMA interrupt on a real part.
package hwsim

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/tphakala/i2score/internal/errors"
	"github.com/tphakala/i2score/internal/i2s"
	"github.com/tphakala/i2score/internal/logger"
)

// Sink receives TX blocks as the peripheral shifts them out. It runs on the
// producer path.
type Sink func(channel int, data []byte)

// Peripheral drives one device. Step and Run must not be used concurrently;
// Halt and InjectFault may be called from any goroutine.
type Peripheral struct {
	dev *i2s.Device
	cfg i2s.DeviceConfig

	src  Source
	sink Sink

	format      wordFormat
	channels    []wordFormat // TDM per-channel formats, refreshed each Step
	blockFrames int
	interval    time.Duration

	halt   atomic.Int64
	fault  atomic.Pointer[faultRequest]
	events atomic.Uint64
	txed   atomic.Uint64

	transfer func(channel, frameSize int, block []byte)
	log      logger.Logger
}

type faultRequest struct{ cause error }

type wordFormat struct {
	bits       int
	signExtend bool
}

// Option customizes a Peripheral.
type Option func(*Peripheral)

// WithSource sets the RX sample source. The default is silence.
func WithSource(src Source) Option {
	return func(p *Peripheral) {
		if src != nil {
			p.src = src
		}
	}
}

// WithSink receives TX data.
func WithSink(s Sink) Option {
	return func(p *Peripheral) {
		p.sink = s
	}
}

// WithInterval overrides the event period derived from the frame clock.
func WithInterval(d time.Duration) Option {
	return func(p *Peripheral) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Peripheral) {
		if l != nil {
			p.log = l
		}
	}
}

// New attaches a peripheral to dev. An event covers one block of the
// device configuration, so the period is block frames over the frame clock.
func New(dev *i2s.Device, opts ...Option) *Peripheral {
	cfg := dev.Config()
	p := &Peripheral{
		dev:         dev,
		cfg:         cfg,
		src:         SilenceSource{},
		format:      wordFormat{bits: cfg.WordSize, signExtend: cfg.Flags&i2s.SignExtend != 0},
		channels:    make([]wordFormat, dev.NumChannels()),
		blockFrames: max(cfg.BlockSize/max(cfg.FrameSize(), 1), 1),
	}
	p.interval = max(time.Duration(p.blockFrames)*time.Second/time.Duration(cfg.FrameClockHz), time.Microsecond)
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Global().Module("hwsim")
	}
	p.log = p.log.With(logger.String("device_id", dev.ID()))

	if cfg.Direction == i2s.TX {
		p.transfer = p.shiftOut
	} else {
		p.transfer = p.shiftIn
	}
	return p
}

// Interval returns the time between completion events.
func (p *Peripheral) Interval() time.Duration {
	return p.interval
}

// Events returns the number of completion events fired.
func (p *Peripheral) Events() uint64 {
	return p.events.Load()
}

// TransmittedBytes returns the bytes shifted out in TX mode.
func (p *Peripheral) TransmittedBytes() uint64 {
	return p.txed.Load()
}

// Halt makes the next event a short final transfer of frames frames.
func (p *Peripheral) Halt(frames int) {
	if frames > 0 {
		p.halt.Store(int64(frames))
	}
}

// InjectFault makes the next Step report a fatal fault instead of an event.
func (p *Peripheral) InjectFault(cause error) {
	p.fault.Store(&faultRequest{cause: cause})
}

// Step fires one completion event. It returns io.EOF once a finite source is
// drained and the device error once the device is closed or faulted.
func (p *Peripheral) Step() error {
	if f := p.fault.Swap(nil); f != nil {
		p.dev.Fault(f.cause)
		p.log.Error("injected hardware fault", logger.Error(f.cause))
		return p.dev.Err()
	}

	p.refreshFormats()

	frames := int(p.halt.Swap(0))
	if frames == 0 && p.cfg.Direction == i2s.RX {
		switch rem := p.src.Remaining(); {
		case rem == 0:
			return io.EOF
		case rem > 0 && rem <= p.blockFrames:
			frames = rem
		}
	}

	err := p.dev.TransferComplete(i2s.TransferEvent{Frames: frames, Transfer: p.transfer})
	if err != nil {
		return err
	}
	p.events.Add(1)
	return nil
}

// Run fires events at the configured interval until ctx ends, the source is
// drained or the device fails.
func (p *Peripheral) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("simulator running",
		logger.Duration("interval", p.interval),
		logger.Int("block_frames", p.blockFrames))

	for {
		select {
		case <-ctx.Done():
			p.log.Info("simulator stopped", logger.Uint64("events", p.events.Load()))
			return nil
		case <-ticker.C:
			err := p.Step()
			switch {
			case err == nil:
			case errors.Is(err, io.EOF):
				p.log.Info("source drained", logger.Uint64("events", p.events.Load()))
				return nil
			default:
				return err
			}
		}
	}
}

// refreshFormats snapshots TDM channel formats outside the producer hook,
// which must not call into the device.
func (p *Peripheral) refreshFormats() {
	if !p.cfg.TDM || p.cfg.Direction == i2s.TX {
		return
	}
	for id := range p.channels {
		cc, err := p.dev.ChannelConfig(id)
		if err != nil {
			return
		}
		p.channels[id] = wordFormat{bits: cc.WordSize, signExtend: cc.Flags&i2s.SignExtend != 0}
	}
}

// shiftIn fills an RX block. A TDM channel only carries its own slot.
func (p *Peripheral) shiftIn(channel, frameSize int, block []byte) {
	slots, first, f := p.cfg.Channels, 0, p.format
	if p.cfg.TDM {
		slots, first, f = 1, channel, p.channels[channel]
	}
	wb := frameSize / slots
	for off := 0; off+frameSize <= len(block); off += frameSize {
		for s := range slots {
			putWord(block[off+s*wb:off+(s+1)*wb], p.src.Next(first+s, f.bits), f)
		}
	}
}

// putWord stores v little-endian. Words narrower than their storage are
// sign-extended only when the format asks for it.
func putWord(dst []byte, v int32, f wordFormat) {
	u := uint32(v)
	if !f.signExtend && f.bits < len(dst)*8 {
		u &= 1<<f.bits - 1
	}
	for i := range dst {
		dst[i] = byte(u >> (8 * i))
	}
}

func (p *Peripheral) shiftOut(channel, _ int, block []byte) {
	p.txed.Add(uint64(len(block)))
	if p.sink != nil {
		p.sink(channel, block)
	}
}
