package i2s

import (
	"github.com/tphakala/i2score/internal/observability/metrics"
)

// TransferEvent is one hardware completion: the end of a block period for
// every channel in the rotation.
type TransferEvent struct {
	// Frames is zero when every in-flight block was filled. A positive value
	// means the hardware halted after that many frames; blocks shorter than
	// that are still complete. A halted transfer is final for each channel.
	Frames int

	// Transfer, when set, is called for every rotating channel with the
	// channel's frame size and the valid part of its in-flight block just
	// before the block completes. An RX peripheral fills it, a TX peripheral
	// drains it. Stopped channels own no block and are skipped; a TX
	// peripheral shifts silence out of their slots. It runs on the producer
	// path and must not call back into the Device.
	Transfer func(channel, frameSize int, block []byte)
}

// TransferComplete runs the rotation for one completion event. It must be
// called from a single producer goroutine. It never blocks, allocates or logs.
//
// Armed channels join first, then channels rotate in ascending id order. It
// returns the terminal error once the device is closed or faulted.
func (d *Device) TransferComplete(ev TransferEvent) error {
	if err := d.terminalErr(); err != nil {
		return err
	}

	for _, ch := range d.channels {
		ch.phase.CompareAndSwap(phaseArmed, phaseRunning)
	}
	for _, ch := range d.channels {
		d.rotate(ch, ev)
	}

	if ev.Frames > 0 {
		// the hardware halted; nothing rotates until Start
		d.running.Store(false)
	}
	return nil
}

func (d *Device) rotate(ch *channel, ev TransferEvent) {
	size := ch.blockSize
	final := ev.Frames > 0
	if final {
		size = min(size, ev.Frames*ch.frameSize)
	}

	commit := false
	for {
		p := ch.phase.Load()
		if p != phaseRunning && p != phaseStopping {
			ch.ignoredTicks.Add(1)
			ch.metrics.RecordIgnoredTick()
			return
		}
		if p == phaseRunning && !final {
			break
		}
		if ch.phase.CompareAndSwap(p, phaseCommitting) {
			commit = true
			break
		}
	}

	if ch.active.lease.Load() != 0 {
		// only ping-pong re-arms a block that is still lent
		ch.overwrites.Add(1)
		ch.metrics.RecordOverwrite()
	}
	if ev.Transfer != nil {
		ev.Transfer(ch.id, ch.frameSize, ch.active.buf[:size])
	}

	if commit {
		ch.deliver(size)
		ch.pool.reclaim(ch.next)
		ch.active, ch.next = nil, nil
		ch.metrics.SetState(metrics.StateStopped)
		ch.phase.Store(phaseStopped)
		return
	}

	if ch.next == nil {
		ch.next = ch.pool.Acquire()
	}
	if ch.next == nil {
		// exhausted: the window is lost and the active block is reused
		ch.dropped += size
		ch.droppedBytes.Add(uint64(size))
		ch.overruns.Add(1)
		ch.metrics.RecordOverrun(size)
		return
	}

	ch.deliver(size)
	ch.active = ch.next
	ch.next = ch.pool.Acquire()
}

// deliver pushes the active block with its byte count and the bytes dropped before it.
func (ch *channel) deliver(size int) {
	c := Completion{
		Channel: ch.id,
		Block:   ch.active,
		Size:    size,
		Dropped: ch.dropped,
		Seq:     ch.seq,
	}
	ch.seq++
	ch.dropped = 0
	ch.completions.Add(1)
	ch.queue.push(c)
}

// Fault reports an unrecoverable peripheral condition. Every channel is forced
// to STOPPED and pending reads and tasks fail with an error wrapping
// ErrHardwareFault. The device must be closed and reopened. Like
// TransferComplete it belongs to the producer context.
func (d *Device) Fault(cause error) {
	err := hardwareError(cause, d.cfg.Itf, d.id)
	if !d.fault.CompareAndSwap(nil, &failure{err: err}) {
		return
	}
	d.running.Store(false)
	d.metrics.RecordFault(d.id)

	for _, ch := range d.channels {
		for {
			p := ch.phase.Load()
			if p == phaseStopped || p == phaseArming || ch.phase.CompareAndSwap(p, phaseStopped) {
				break
			}
		}
		ch.metrics.SetState(metrics.StateStopped)
		ch.queue.fail(err)
	}
}
