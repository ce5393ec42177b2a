package i2s

import (
	"context"
	"sync/atomic"

	"github.com/tphakala/i2score/internal/observability/metrics"
	"github.com/tphakala/i2score/internal/ringq"
)

// MaxSlabBlocks bounds a channel's pool, and with it the queue depth.
const MaxSlabBlocks = 64

// Completion is one finished block handed to a consumer.
type Completion struct {
	Channel int
	Block   *Block
	// Size is the number of valid bytes. It is the block size unless the
	// hardware halted mid-block, which makes this the channel's final block.
	Size int
	// Dropped counts bytes lost to pool exhaustion since the previous completion.
	Dropped int
	// Seq numbers completions per channel, including across stop and start.
	Seq uint64

	lease uint64
}

// Data returns the valid bytes of the block.
func (c Completion) Data() []byte {
	if c.Block == nil {
		return nil
	}
	return c.Block.buf[:c.Size]
}

// Release hands the block back to its pool. It must be called exactly once
// per completion; TX consumers refill the block first. A ping-pong block is
// refilled one block period after its completion whether or not it was
// released; releasing such a superseded completion is a no-op.
func (c Completion) Release() error {
	if c.Block == nil {
		return usageError(ErrBlockReleased, "release", c.Channel)
	}
	if err := c.Block.pool.release(c.Block, c.lease); err != nil {
		return usageError(err, "release", c.Channel)
	}
	return nil
}

type failure struct{ err error }

// completionQueue is the per-channel FIFO between the transfer engine and
// its consumers. push runs on the producer path and never blocks.
type completionQueue struct {
	channel int
	entries *ringq.Ring[Completion]

	// wake holds at most one pending signal for a blocked reader
	wake    chan struct{}
	reading atomic.Bool

	task        atomic.Pointer[Task]
	outstanding atomic.Bool

	failed   atomic.Pointer[failure]
	failedCh chan struct{}

	metrics *metrics.ChannelMetrics
}

func newCompletionQueue(channel int, m *metrics.ChannelMetrics) *completionQueue {
	return &completionQueue{
		channel:  channel,
		entries:  ringq.New[Completion](MaxSlabBlocks),
		wake:     make(chan struct{}, 1),
		failedCh: make(chan struct{}),
		metrics:  m,
	}
}

// push publishes a completed block, resolving a registered task if there is one.
func (q *completionQueue) push(c Completion) {
	c.lease = c.Block.pool.lend(c.Block)
	c.Block.owner.Store(ownerQueued)
	if q.failed.Load() != nil {
		c.Block.pool.discard(c.Block)
		return
	}
	q.metrics.RecordCompletion(c.Size)
	if !q.entries.Enqueue(c) {
		q.metrics.RecordDequeue()
		c.Block.pool.discard(c.Block)
		return
	}

	q.dispatch()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch pairs the registered task with the oldest entry. Both sides call
// it after publishing, so an entry and a task never wait on each other.
func (q *completionQueue) dispatch() {
	for {
		t := q.task.Swap(nil)
		if t == nil {
			return
		}
		c, ok := q.entries.Dequeue()
		if ok {
			q.handOff(&c)
			q.outstanding.Store(false)
			t.resolve(c, nil)
			return
		}
		q.task.Store(t)
		if f := q.failed.Load(); f != nil {
			q.failTask(f.err)
			return
		}
		if q.entries.Len() == 0 {
			return
		}
	}
}

func (q *completionQueue) handOff(c *Completion) {
	c.Block.owner.CompareAndSwap(ownerQueued, ownerConsumer)
	q.metrics.RecordDequeue()
}

// pop returns the oldest entry, blocking until one is pushed, ctx ends or the queue fails.
func (q *completionQueue) pop(ctx context.Context) (Completion, error) {
	if !q.reading.CompareAndSwap(false, true) {
		return Completion{}, usageError(ErrConcurrentRead, "read", q.channel)
	}
	defer q.reading.Store(false)

	for {
		if f := q.failed.Load(); f != nil {
			return Completion{}, f.err
		}
		if c, ok := q.entries.Dequeue(); ok {
			q.handOff(&c)
			return c, nil
		}

		select {
		case <-q.wake:
		case <-q.failedCh:
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		}
	}
}

// register records t for the next push, or resolves it at once from the queue.
func (q *completionQueue) register(t *Task) error {
	if !q.outstanding.CompareAndSwap(false, true) {
		return usageError(ErrTaskOutstanding, "read_async", q.channel)
	}
	q.task.Store(t)

	if f := q.failed.Load(); f != nil {
		q.failTask(f.err)
		return nil
	}
	q.dispatch()
	return nil
}

// fail ends the stream: blocked readers and the registered task receive err,
// later reads return it immediately. Only the first call has an effect.
func (q *completionQueue) fail(err error) {
	if !q.failed.CompareAndSwap(nil, &failure{err: err}) {
		return
	}
	close(q.failedCh)
	q.failTask(err)
	q.metrics.ResetQueueDepth()
}

func (q *completionQueue) failTask(err error) {
	if t := q.task.Swap(nil); t != nil {
		q.outstanding.Store(false)
		t.resolve(Completion{}, err)
	}
}

// Len is a snapshot of queued entries.
func (q *completionQueue) Len() int {
	return q.entries.Len()
}

func (q *completionQueue) err() error {
	if f := q.failed.Load(); f != nil {
		return f.err
	}
	return nil
}
