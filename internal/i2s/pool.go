package i2s

import (
	"github.com/tphakala/i2score/internal/ringq"
)

// Pool supplies blocks to one channel's transfer engine.
//
// Acquire and reclaim run only in the context that currently owns the
// channel's engine state (the producer while running, the control path while
// stopped). Release may be called from any consumer goroutine.
type Pool struct {
	mode      BufferMode
	blockSize int
	blocks    []*Block

	// ping-pong: index of the block to hand out next
	turn int

	// slab: free list
	free *ringq.Ring[*Block]
}

// NewPool builds a pool of count blocks of blockSize bytes, or wraps the
// caller-supplied buffers when given. It allocates only here.
func NewPool(mode BufferMode, blockSize, count int, buffers [][]byte) *Pool {
	if len(buffers) > 0 {
		count = len(buffers)
	}
	if mode == PingPong {
		count = 2
	}

	p := &Pool{
		mode:      mode,
		blockSize: blockSize,
		blocks:    make([]*Block, count),
	}
	for i := range p.blocks {
		var buf []byte
		if i < len(buffers) {
			buf = buffers[i][:blockSize:blockSize]
		} else {
			buf = make([]byte, blockSize)
		}
		p.blocks[i] = &Block{buf: buf, index: i, pool: p}
	}

	if mode == Slab {
		p.free = ringq.New[*Block](count)
		for _, b := range p.blocks {
			p.free.Enqueue(b)
		}
	}
	return p
}

// Acquire returns a block for the hardware or nil when none is free.
// Ping-pong returns the partner of the block last handed out whether or not
// its consumer has released it; it is nil only while both are with the
// hardware. A consumer must finish with a ping-pong block within one block
// period or the hardware overwrites it.
func (p *Pool) Acquire() *Block {
	if p.mode == PingPong {
		b := p.blocks[p.turn]
		if b.owner.Load() == ownerHardware {
			return nil
		}
		b.owner.Store(ownerHardware)
		p.turn ^= 1
		return b
	}

	b, ok := p.free.Dequeue()
	if !ok {
		return nil
	}
	b.owner.Store(ownerHardware)
	return b
}

// lend records a delivery of b and returns its lease.
func (p *Pool) lend(b *Block) uint64 {
	n := b.issued.Add(1)
	b.lease.Store(n)
	return n
}

// release returns the block of the delivery identified by lease. Releasing a
// ping-pong delivery whose block was since delivered again is a no-op.
func (p *Pool) release(b *Block, lease uint64) error {
	if b == nil || b.pool != p || lease == 0 {
		return ErrBlockReleased
	}
	if !b.lease.CompareAndSwap(lease, 0) {
		if p.mode == PingPong && lease < b.issued.Load() {
			return nil
		}
		return ErrBlockReleased
	}
	if !b.transition(ownerConsumer, ownerFree) {
		// re-armed by the hardware while the consumer held it
		return nil
	}
	if p.mode == Slab {
		// cannot fail: the ring holds every block of the pool
		p.free.Enqueue(b)
	}
	return nil
}

// reclaim returns a block that never left the hardware, as on stop.
func (p *Pool) reclaim(b *Block) {
	if b == nil || !b.transition(ownerHardware, ownerFree) {
		return
	}
	if p.mode == PingPong {
		p.turn = b.index
		return
	}
	p.free.Enqueue(b)
}

// discard returns a block that was queued but never handed to a consumer.
func (p *Pool) discard(b *Block) {
	if b == nil || !b.transition(ownerQueued, ownerFree) {
		return
	}
	b.lease.Store(0)
	if p.mode == Slab {
		p.free.Enqueue(b)
	}
}

// Len returns the number of blocks in the pool.
func (p *Pool) Len() int {
	return len(p.blocks)
}

// Available counts free blocks. It is a snapshot for status reporting.
func (p *Pool) Available() int {
	n := 0
	for _, b := range p.blocks {
		if b.owner.Load() == ownerFree {
			n++
		}
	}
	return n
}

// lent counts blocks whose latest delivery has not been released.
func (p *Pool) lent() int {
	n := 0
	for _, b := range p.blocks {
		if b.lease.Load() != 0 {
			n++
		}
	}
	return n
}

// Mode returns the buffer supply discipline.
func (p *Pool) Mode() BufferMode {
	return p.mode
}
