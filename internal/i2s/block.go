package i2s

import "sync/atomic"

// Block owner states. A block moves free → hardware → queued → consumer → free.
// A ping-pong block may go back to hardware from queued or consumer.
const (
	ownerFree int32 = iota
	ownerHardware
	ownerQueued
	ownerConsumer
)

// Block is a fixed-size buffer handed between the pool, the transfer engine
// and one consumer. Exactly one of them owns it at any time.
type Block struct {
	buf   []byte
	index int
	owner atomic.Int32
	pool  *Pool

	// issued counts deliveries; lease is the delivery a consumer still holds, 0 when none
	issued atomic.Uint64
	lease  atomic.Uint64
}

// Bytes returns the whole block. Only the owner may touch it.
func (b *Block) Bytes() []byte {
	return b.buf
}

// Index is the block's position in its pool, stable for the device lifetime.
func (b *Block) Index() int {
	return b.index
}

func (b *Block) transition(from, to int32) bool {
	return b.owner.CompareAndSwap(from, to)
}
