// Package capture records completed i2s blocks to WAV files. A reader
// goroutine copies each completion into a byte ring and releases the block
// at once, so slow disks never hold pool blocks; a writer goroutine drains
// the ring into the encoder.
package capture

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tphakala/i2score/internal/errors"
	"github.com/tphakala/i2score/internal/i2s"
	"github.com/tphakala/i2score/internal/logger"
	"github.com/tphakala/i2score/internal/observability/metrics"
)

const (
	// DefaultRingBlocks sizes the jitter ring in device blocks.
	DefaultRingBlocks = 32
	// DefaultFlushInterval bounds how long data sits in the ring while the writer is idle.
	DefaultFlushInterval = 100 * time.Millisecond

	componentName = "capture"
)

// Config describes one recording.
type Config struct {
	// Path of the WAV file. Parent directories are created.
	Path string
	// Channel is the TDM channel id; ignored in non-TDM mode.
	Channel int
	// RingBytes is the jitter ring capacity. Zero means DefaultRingBlocks blocks.
	RingBytes int
	// Async reads through ReadAsync tasks instead of a blocking Read.
	Async bool
	// FlushInterval wakes the writer even without new data.
	FlushInterval time.Duration
}

// Stats is a snapshot of a recorder.
type Stats struct {
	Path         string `json:"path"`
	Channel      int    `json:"channel"`
	Blocks       uint64 `json:"blocks"`
	BytesWritten uint64 `json:"bytes_written"`
	DroppedBytes uint64 `json:"dropped_bytes"`
	Overflows    uint64 `json:"overflows"`
}

// Recorder streams one channel of a device into a WAV file.
type Recorder struct {
	dev  *i2s.Device
	conf Config

	wordSize   int
	wordBytes  int
	slots      int
	frameSize  int
	signExtend bool
	sampleRate int

	mu   sync.Mutex // pairs Free with Write and Length with Read
	ring *ringbuffer.RingBuffer
	wake chan struct{}

	blocks    atomic.Uint64
	written   atomic.Uint64
	dropped   atomic.Uint64
	overflows atomic.Uint64

	dropWarn rate.Sometimes
	overWarn rate.Sometimes
	metrics  *metrics.I2SMetrics
	log      logger.Logger
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithMetrics records capture counters into m.
func WithMetrics(m *metrics.I2SMetrics) Option {
	return func(r *Recorder) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

// New prepares a recorder for conf.Channel of dev. The channel's word size and
// sign-extension flag decide how stored words are decoded.
func New(dev *i2s.Device, conf Config, opts ...Option) (*Recorder, error) {
	cfg := dev.Config()
	if !cfg.TDM {
		conf.Channel = 0
	}
	if conf.Path == "" {
		return nil, errors.Newf("capture path is empty").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	r := &Recorder{
		dev:        dev,
		conf:       conf,
		wordSize:   cfg.WordSize,
		slots:      cfg.Channels,
		signExtend: cfg.Flags&i2s.SignExtend != 0,
		sampleRate: cfg.FrameClockHz,
		wake:       make(chan struct{}, 1),
		dropWarn:   rate.Sometimes{Interval: 10 * time.Second},
		overWarn:   rate.Sometimes{Interval: 10 * time.Second},
	}
	blockSize := cfg.BlockSize
	if cfg.TDM {
		cc, err := dev.ChannelConfig(conf.Channel)
		if err != nil {
			return nil, err
		}
		r.wordSize = cc.WordSize
		r.slots = 1
		r.signExtend = cc.Flags&i2s.SignExtend != 0
		blockSize = cc.BlockSize
	}
	r.wordBytes = i2s.WordBytes(r.wordSize)
	r.frameSize = r.wordBytes * r.slots

	if r.conf.RingBytes <= 0 {
		r.conf.RingBytes = DefaultRingBlocks * blockSize
	}
	if r.conf.FlushInterval <= 0 {
		r.conf.FlushInterval = DefaultFlushInterval
	}
	r.ring = ringbuffer.New(r.conf.RingBytes)

	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Global().Module(componentName)
	}
	r.log = r.log.With(
		logger.String("device_id", dev.ID()),
		logger.Int("channel", r.conf.Channel),
		logger.String("path", r.conf.Path))
	return r, nil
}

// Run records until ctx ends or the device is closed, then finalizes the
// file. A hardware fault ends the recording with the fault error.
func (r *Recorder) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(r.conf.Path), 0o755); err != nil {
		return r.fileError(err, "mkdir")
	}
	f, err := os.Create(r.conf.Path)
	if err != nil {
		return r.fileError(err, "create")
	}
	enc := wav.NewEncoder(f, r.sampleRate, r.wordSize, r.slots, 1)
	// an empty write emits the header so even a recording without data is a valid file
	if err := enc.Write(r.newBuffer()); err != nil {
		_ = f.Close()
		return r.fileError(err, "header")
	}

	r.log.Info("recording started",
		logger.Int("word_size", r.wordSize),
		logger.Int("slots", r.slots),
		logger.Int("ring_bytes", r.conf.RingBytes),
		logger.Bool("async", r.conf.Async))

	readerDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(readerDone)
		return r.readLoop(gctx)
	})
	g.Go(func() error {
		return r.writeLoop(enc, readerDone)
	})
	runErr := g.Wait()

	if err := enc.Close(); err != nil && runErr == nil {
		runErr = r.fileError(err, "finalize")
	}
	if err := f.Close(); err != nil && runErr == nil {
		runErr = r.fileError(err, "close")
	}

	st := r.Stats()
	r.log.Info("recording finished",
		logger.Uint64("blocks", st.Blocks),
		logger.Uint64("bytes_written", st.BytesWritten),
		logger.Uint64("dropped_bytes", st.DroppedBytes),
		logger.Uint64("overflows", st.Overflows))
	return runErr
}

func (r *Recorder) read(ctx context.Context) (i2s.Completion, error) {
	tdm := r.dev.Config().TDM
	if !r.conf.Async {
		if tdm {
			return r.dev.ReadChannel(ctx, r.conf.Channel)
		}
		return r.dev.Read(ctx)
	}

	var (
		t   *i2s.Task
		err error
	)
	if tdm {
		t, err = r.dev.ReadChannelAsync(r.conf.Channel)
	} else {
		t, err = r.dev.ReadAsync()
	}
	if err != nil {
		return i2s.Completion{}, err
	}
	select {
	case <-t.Done():
		return r.dev.ReadStatus(t)
	case <-ctx.Done():
		// the task stays registered; a later completion resolves it and is released here
		go r.releaseLate(t)
		return i2s.Completion{}, ctx.Err()
	}
}

// releaseLate returns the block of an abandoned task once it resolves.
func (r *Recorder) releaseLate(t *i2s.Task) {
	<-t.Done()
	if c, err := t.Status(); err == nil {
		_ = c.Release()
	}
}

func (r *Recorder) readLoop(ctx context.Context) error {
	for {
		c, err := r.read(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, i2s.ErrDeviceClosed):
			return nil
		default:
			return err
		}
		r.accept(c)
	}
}

// accept copies a completion into the ring and releases its block.
func (r *Recorder) accept(c i2s.Completion) {
	defer r.blocks.Add(1)
	defer func() { _ = c.Release() }()

	if c.Dropped > 0 {
		r.dropped.Add(uint64(c.Dropped))
		r.dropWarn.Do(func() {
			r.log.Warn("device dropped samples",
				logger.Int("bytes", c.Dropped),
				logger.Uint64("seq", c.Seq))
		})
	}

	data := c.Data()
	r.mu.Lock()
	if r.ring.Free() < len(data) {
		r.mu.Unlock()
		r.overflows.Add(1)
		r.dropped.Add(uint64(len(data)))
		r.metrics.RecordCaptureOverflow(r.dev.ID(), r.conf.Channel)
		r.overWarn.Do(func() {
			r.log.Warn("capture ring full, block dropped",
				logger.Int("bytes", len(data)),
				logger.Int("ring_bytes", r.conf.RingBytes))
		})
		return
	}
	_, err := r.ring.Write(data)
	r.mu.Unlock()
	if err != nil {
		r.log.Error("capture ring write failed", logger.Error(err))
		return
	}

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Recorder) writeLoop(enc *wav.Encoder, readerDone <-chan struct{}) error {
	ticker := time.NewTicker(r.conf.FlushInterval)
	defer ticker.Stop()

	scratch := make([]byte, r.conf.RingBytes)
	buf := r.newBuffer()

	for {
		select {
		case <-r.wake:
		case <-ticker.C:
		case <-readerDone:
			return r.drain(enc, scratch, buf)
		}
		if err := r.drain(enc, scratch, buf); err != nil {
			return err
		}
	}
}

// drain encodes every whole frame currently in the ring.
func (r *Recorder) drain(enc *wav.Encoder, scratch []byte, buf *audio.IntBuffer) error {
	r.mu.Lock()
	n := r.ring.Length()
	n -= n % r.frameSize
	if n == 0 {
		r.mu.Unlock()
		return nil
	}
	n, err := r.ring.Read(scratch[:n])
	r.mu.Unlock()
	if err != nil {
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryBuffer).
			Context("operation", "ring_read").
			Build()
	}

	start := time.Now()
	buf.Data = r.decode(scratch[:n], buf.Data[:0])
	if err := enc.Write(buf); err != nil {
		return r.fileError(err, "encode")
	}
	r.written.Add(uint64(n))
	r.metrics.RecordCaptureWrite(r.dev.ID(), r.conf.Channel, n, time.Since(start).Seconds())
	return nil
}

// decode turns little-endian stored words into signed samples. Words
// narrower than their storage are sign-extended from the word size unless
// the interface already did it.
func (r *Recorder) decode(data []byte, dst []int) []int {
	shift := 32 - r.wordSize
	for off := 0; off+r.wordBytes <= len(data); off += r.wordBytes {
		var u uint32
		for i := range r.wordBytes {
			u |= uint32(data[off+i]) << (8 * i)
		}
		var v int32
		switch {
		case r.wordBytes == 1:
			// 8-bit WAV is unsigned
			v = int32(int8(u)) + 128
		case r.signExtend && r.wordBytes == 4:
			v = int32(u)
		default:
			v = int32(u<<shift) >> shift
		}
		dst = append(dst, int(v))
	}
	return dst
}

func (r *Recorder) newBuffer() *audio.IntBuffer {
	return &audio.IntBuffer{
		Data:           []int{},
		Format:         &audio.Format{SampleRate: r.sampleRate, NumChannels: r.slots},
		SourceBitDepth: r.wordSize,
	}
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Path:         r.conf.Path,
		Channel:      r.conf.Channel,
		Blocks:       r.blocks.Load(),
		BytesWritten: r.written.Load(),
		DroppedBytes: r.dropped.Load(),
		Overflows:    r.overflows.Load(),
	}
}

func (r *Recorder) fileError(err error, op string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryFileIO).
		Context("operation", op).
		Context("path", r.conf.Path).
		Build()
}
