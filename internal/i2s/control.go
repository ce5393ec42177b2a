package i2s

import (
	"runtime"

	"github.com/tphakala/i2score/internal/logger"
	"github.com/tphakala/i2score/internal/observability/metrics"
)

// State is the public control state of a device or channel.
type State uint8

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// MarshalText renders the state name in status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Channel phases. The public state collapses them to Stopped and Running.
//
// The control path owns a channel's engine state in phaseStopped and
// phaseArming. The producer owns it from phaseRunning until it commits a stop
// and stores phaseStopped again. phaseArmed is the hand-over: the producer
// promotes it to phaseRunning at the start of its next cycle.
const (
	phaseStopped int32 = iota
	phaseArming
	phaseArmed
	phaseRunning
	phaseStopping
	phaseCommitting
)

// Start moves the device to RUNNING. Every enabled channel is armed with its
// first blocks before the next completion event can rotate it; a channel with a
// pending stop has the stop cancelled instead. Start on a running device is a no-op.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.terminalErr(); err != nil {
		return err
	}

	var armed []*channel
	for _, ch := range d.channels {
		if !ch.cfg.Enabled {
			continue
		}
		wasStopped := d.waitCommitted(ch) == phaseStopped
		if err := d.armLocked(ch, "start"); err != nil {
			for _, prev := range armed {
				d.requestStop(prev)
			}
			d.log.Warn("start failed", logger.Error(err), logger.Int("channel", ch.id))
			return err
		}
		if wasStopped {
			armed = append(armed, ch)
		}
	}

	if !d.running.Swap(true) {
		d.log.Info("device started", logger.Int("channels", len(armed)))
	}
	return nil
}

// Stop requests STOPPED. It returns at once; each running channel delivers its
// in-flight block and stops at the next block boundary. Pending reads and
// tasks are not cancelled.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.terminalErr(); err != nil {
		return err
	}
	if d.running.Swap(false) {
		d.log.Info("device stop requested")
	}
	for _, ch := range d.channels {
		d.requestStop(ch)
	}
	return nil
}

// State returns RUNNING while the device is started or any channel still has
// a stop pending at the next boundary.
func (d *Device) State() State {
	if d.terminalErr() != nil {
		return Stopped
	}
	if d.running.Load() {
		return Running
	}
	for _, ch := range d.channels {
		if ch.state() == Running {
			return Running
		}
	}
	return Stopped
}

// ChannelState returns the control state of one channel.
func (d *Device) ChannelState(id int) (State, error) {
	if id < 0 || id >= len(d.channels) {
		return Stopped, usageError(ErrInvalidChannel, "channel_state", id)
	}
	if d.terminalErr() != nil {
		return Stopped, nil
	}
	return d.channels[id].state(), nil
}

// waitCommitted spins while the producer finishes a stop it has already
// committed. The producer holds phaseCommitting for one rotation only.
func (d *Device) waitCommitted(ch *channel) int32 {
	for {
		p := ch.phase.Load()
		if p != phaseCommitting {
			return p
		}
		runtime.Gosched()
	}
}

// armLocked makes ch take part in rotation. A stopped channel gets its active
// and next blocks from the pool; a stopping channel has its stop cancelled.
// Caller holds d.mu.
func (d *Device) armLocked(ch *channel, op string) error {
	for {
		switch d.waitCommitted(ch) {
		case phaseStopping:
			if ch.phase.CompareAndSwap(phaseStopping, phaseRunning) {
				return nil
			}
			// the producer committed the stop meanwhile
		case phaseStopped:
			return d.armStopped(ch, op)
		default:
			return nil
		}
	}
}

func (d *Device) armStopped(ch *channel, op string) error {
	if !ch.phase.CompareAndSwap(phaseStopped, phaseArming) {
		return nil
	}

	ch.active = ch.pool.Acquire()
	if ch.active == nil {
		ch.phase.Store(phaseStopped)
		return resourceError(ErrPoolExhausted, op, ch.id)
	}
	// a missing next block is armed late by the producer
	ch.next = ch.pool.Acquire()
	ch.dropped = 0

	ch.metrics.SetState(metrics.StateRunning)
	ch.phase.Store(phaseArmed)
	return nil
}

// requestStop asks ch to stop at the next boundary. An armed channel that
// never rotated is disarmed at once. Caller holds d.mu.
func (d *Device) requestStop(ch *channel) {
	for {
		switch ch.phase.Load() {
		case phaseArmed:
			if ch.phase.CompareAndSwap(phaseArmed, phaseArming) {
				ch.pool.reclaim(ch.next)
				ch.pool.reclaim(ch.active)
				ch.active, ch.next = nil, nil
				ch.metrics.SetState(metrics.StateStopped)
				ch.phase.Store(phaseStopped)
				return
			}
		case phaseRunning:
			if ch.phase.CompareAndSwap(phaseRunning, phaseStopping) {
				return
			}
		default:
			return
		}
	}
}
