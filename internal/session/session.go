// Package session wires a configured device, the simulated peripheral, the
// WAV recorders and the telemetry endpoint into one capture run.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/i2score/internal/capture"
	"github.com/tphakala/i2score/internal/conf"
	"github.com/tphakala/i2score/internal/errors"
	"github.com/tphakala/i2score/internal/i2s"
	"github.com/tphakala/i2score/internal/i2s/hwsim"
	"github.com/tphakala/i2score/internal/logger"
	"github.com/tphakala/i2score/internal/observability"
)

const (
	componentName = "session"

	// drainTimeout bounds how long queued completions are given to reach the
	// recorders after the peripheral stops.
	drainTimeout = 2 * time.Second
	drainPoll    = 5 * time.Millisecond
)

// Summary reports what a run produced.
type Summary struct {
	Device     i2s.DeviceStatus
	Events     uint64
	TxBytes    uint64
	Recordings []capture.Stats
}

// Run opens the configured device, starts it and streams until ctx ends, the
// capture duration elapses, a finite source is drained or the device fails.
func Run(ctx context.Context, settings *conf.Settings) (*Summary, error) {
	log := logger.Global().Module(componentName)

	var m *observability.Metrics
	if settings.Telemetry.Enabled {
		var err error
		if m, err = observability.NewMetrics(); err != nil {
			return nil, err
		}
	}

	cfg, err := settings.Device.ToDeviceConfig()
	if err != nil {
		return nil, err
	}
	var opts []i2s.Option
	if m != nil {
		opts = append(opts, i2s.WithMetrics(m.I2S))
	}
	dev, err := i2s.Open(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	if err := settings.ApplyChannels(dev); err != nil {
		return nil, err
	}

	src, err := newSource(&settings.Simulator, cfg.FrameClockHz)
	if err != nil {
		return nil, err
	}
	simOpts := []hwsim.Option{hwsim.WithSource(src)}
	if settings.Simulator.Interval > 0 {
		simOpts = append(simOpts, hwsim.WithInterval(settings.Simulator.Interval))
	}
	sim := hwsim.New(dev, simOpts...)

	recorders, err := newRecorders(dev, settings, m)
	if err != nil {
		return nil, err
	}

	var endpoint *observability.Endpoint
	if m != nil {
		if endpoint, err = observability.NewEndpoint(settings.Telemetry.Listen, m, dev); err != nil {
			return nil, err
		}
	}

	if settings.Capture.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.Capture.Duration)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := dev.Start(); err != nil {
		return nil, err
	}
	log.Info("capture session started",
		logger.String("device_id", dev.ID()),
		logger.Int("recorders", len(recorders)),
		logger.Duration("duration", settings.Capture.Duration))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the consumers and the endpoint end once the producer is gone
		defer cancel()
		simErr := sim.Run(gctx)
		if gctx.Err() == nil {
			waitDrained(dev)
		}
		_ = dev.Close()
		return ignoreClosed(simErr)
	})
	for _, r := range recorders {
		g.Go(func() error {
			return ignoreClosed(r.Run(gctx))
		})
	}
	if cfg.Direction == i2s.TX {
		for _, id := range activeChannels(dev, settings) {
			g.Go(func() error {
				return ignoreClosed(refill(gctx, dev, id))
			})
		}
	}
	if endpoint != nil {
		g.Go(func() error {
			return endpoint.Run(gctx)
		})
	}
	runErr := g.Wait()

	summary := &Summary{
		Device:  dev.Status(),
		Events:  sim.Events(),
		TxBytes: sim.TransmittedBytes(),
	}
	for _, r := range recorders {
		summary.Recordings = append(summary.Recordings, r.Stats())
	}

	if runErr != nil {
		log.Error("capture session failed", logger.Error(runErr))
		return summary, runErr
	}
	log.Info("capture session finished",
		logger.Uint64("events", summary.Events),
		logger.Int("recordings", len(summary.Recordings)))
	return summary, nil
}

func newSource(s *conf.SimulatorSettings, rate int) (hwsim.Source, error) {
	switch strings.ToLower(s.Source) {
	case conf.SourceSilence:
		return hwsim.SilenceSource{}, nil
	case conf.SourceWAV:
		return hwsim.NewWAVSource(s.WAVPath)
	case conf.SourceSine, "":
		return hwsim.NewSineSource(s.ToneHz, rate, s.Amplitude), nil
	}
	return nil, errors.Newf("unknown simulator source %q", s.Source).
		Component(componentName).
		Category(errors.CategoryConfiguration).
		Build()
}

// activeChannels lists the channel ids that take part in streaming.
func activeChannels(dev *i2s.Device, settings *conf.Settings) []int {
	if !settings.Device.TDM {
		return []int{0}
	}
	var ids []int
	for id := range dev.NumChannels() {
		if cc, err := dev.ChannelConfig(id); err == nil && cc.Enabled {
			ids = append(ids, id)
		}
	}
	return ids
}

func newRecorders(dev *i2s.Device, settings *conf.Settings, m *observability.Metrics) ([]*capture.Recorder, error) {
	if !settings.Capture.Enabled || settings.Device.Direction == i2s.TX.String() {
		return nil, nil
	}

	var opts []capture.Option
	if m != nil {
		opts = append(opts, capture.WithMetrics(m.I2S))
	}
	stamp := time.Now().Format("20060102T150405")

	var recorders []*capture.Recorder
	for _, id := range activeChannels(dev, settings) {
		blockSize := settings.Device.BlockSize
		if settings.Device.TDM {
			cc, err := dev.ChannelConfig(id)
			if err != nil {
				return nil, err
			}
			blockSize = cc.BlockSize
		}
		r, err := capture.New(dev, capture.Config{
			Path:      filepath.Join(settings.Capture.Path, fmt.Sprintf("itf%d_ch%d_%s.wav", settings.Device.Itf, id, stamp)),
			Channel:   id,
			RingBytes: settings.Capture.RingBlocks * blockSize,
			Async:     settings.Capture.Async,
		}, opts...)
		if err != nil {
			return nil, err
		}
		recorders = append(recorders, r)
	}
	return recorders, nil
}

// refill hands TX blocks straight back so the peripheral always has data queued.
func refill(ctx context.Context, dev *i2s.Device, id int) error {
	read := func() (i2s.Completion, error) {
		if dev.Config().TDM {
			return dev.ReadChannel(ctx, id)
		}
		return dev.Read(ctx)
	}
	for {
		c, err := read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.Release(); err != nil {
			return err
		}
	}
}

// waitDrained waits until every queue is empty or drainTimeout passes.
func waitDrained(dev *i2s.Device) {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		queued := 0
		for _, ch := range dev.Status().Channels {
			queued += ch.Queued
		}
		if queued == 0 {
			return
		}
		time.Sleep(drainPoll)
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, i2s.ErrDeviceClosed) {
		return nil
	}
	return err
}
