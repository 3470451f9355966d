// Package exchange hands decoded frames from one producer goroutine to one
// consumer goroutine through a single ready slot.
//
// Three RGB buffers rotate between the write, read and use roles. The
// producer decodes into the write buffer and publishes it by swapping it
// with the read buffer. The consumer takes the ready frame by swapping the
// read buffer with its use buffer. An unconsumed frame is overwritten by the
// next one: the consumer always sees the latest frame, never a queue.
//
// Two locks are involved:
//   - the role mutex guards the indices and the arrived flag, and carries
//     the condition variable the consumer waits on;
//   - the conversion mutex serializes pixel work (decode on the producer
//     side, orientation on the consumer side).
//
// The role mutex is only ever held for index swaps.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
)

// DefaultWaitTimeout bounds how long Read waits for a frame.
const DefaultWaitTimeout = 2 * time.Second

// TimestampMode selects which timestamp Read reports.
type TimestampMode int

const (
	// TimestampPrevious reports the stamp of the use buffer as it was before
	// the swap, i.e. the frame handed out by the previous Read.
	TimestampPrevious TimestampMode = iota
	// TimestampCurrent reports the stamp of the frame being handed out.
	TimestampCurrent
)

func (m TimestampMode) String() string {
	switch m {
	case TimestampPrevious:
		return "previous"
	case TimestampCurrent:
		return "current"
	}
	return fmt.Sprintf("TimestampMode(%d)", int(m))
}

// ParseTimestampMode accepts "previous" (or "") and "current".
func ParseTimestampMode(s string) (TimestampMode, error) {
	switch s {
	case "", "previous":
		return TimestampPrevious, nil
	case "current":
		return TimestampCurrent, nil
	}
	return 0, fmt.Errorf("exchange: unknown timestamp mode %q", s)
}

// FillFunc decodes a frame into dst. A non-nil error discards the frame.
type FillFunc func(dst *pixbuf.Buffer) error

// ViewFunc reads the acquired frame. It runs under the conversion lock and
// must not retain src.
type ViewFunc func(src *pixbuf.Buffer) error

// Option configures an Exchange.
type Option func(*Exchange)

// WithWaitTimeout overrides DefaultWaitTimeout.
func WithWaitTimeout(d time.Duration) Option {
	return func(x *Exchange) {
		if d > 0 {
			x.timeout = d
		}
	}
}

// WithTimestampMode selects the timestamp Read reports.
func WithTimestampMode(m TimestampMode) Option {
	return func(x *Exchange) { x.tsMode = m }
}

// WithLogger sets the logger. Default is zerolog.Nop().
func WithLogger(l zerolog.Logger) Option {
	return func(x *Exchange) { x.log = l }
}

// Exchange is the triple-buffered frame slot of one capture session.
type Exchange struct {
	pool *pixbuf.Pool

	mu      sync.Mutex // roles, arrived
	cond    *sync.Cond
	arrived bool

	convMu sync.Mutex // pixel work
	closed atomic.Bool

	useTS int64 // timestamp of the use buffer, consumer only

	timeout time.Duration
	tsMode  TimestampMode
	log     zerolog.Logger

	writes        atomic.Uint64
	grabs         atomic.Uint64
	drops         atomic.Uint64
	timeouts      atomic.Uint64
	rejected      atomic.Uint64
	lastTransform atomic.Int64
}

// New allocates three width x height RGB buffers.
func New(width, height int, opts ...Option) (*Exchange, error) {
	pool, err := pixbuf.NewPool(width, height, 3)
	if err != nil {
		return nil, err
	}
	x := &Exchange{
		pool:    pool,
		timeout: DefaultWaitTimeout,
		log:     zerolog.Nop(),
	}
	x.cond = sync.NewCond(&x.mu)
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// Write decodes a frame into the write buffer and publishes it as the ready
// frame.
//
// Algorithm:
//  1. Lock conversion mutex, reject if closed
//  2. fill(write buffer); on error count as rejected and keep the roles
//  3. Stamp the write buffer with ts, unlock conversion mutex
//  4. Lock role mutex, count a drop if the ready frame was never read
//  5. Swap write and read roles, set arrived, signal the consumer
//
// Thread-safety: one producer goroutine. Never blocks on the consumer
// beyond the conversion mutex.
func (x *Exchange) Write(ts int64, fill FillFunc) error {
	x.convMu.Lock()
	if x.closed.Load() {
		x.convMu.Unlock()
		return pixbuf.ErrClosed
	}
	wb := x.pool.Write()
	if err := fill(wb); err != nil {
		x.convMu.Unlock()
		x.rejected.Add(1)
		return err
	}
	wb.Timestamp = ts
	x.convMu.Unlock()

	x.mu.Lock()
	if x.arrived {
		x.drops.Add(1)
		x.log.Trace().Int64("ts_ms", ts).Msg("exchange: ready frame overwritten")
	}
	x.pool.SwapWriteRead()
	x.arrived = true
	x.cond.Signal()
	x.mu.Unlock()

	x.writes.Add(1)
	return nil
}

// Read waits for the next ready frame, makes it the use buffer and calls
// view on it.
//
// Algorithm:
//  1. Remember the use buffer timestamp (reported in TimestampPrevious mode)
//  2. Lock role mutex, wait on the condition until a frame arrived, the
//     wait timeout elapses, ctx is done or the exchange is closed
//  3. Swap use and read roles, clear arrived, unlock
//  4. Lock conversion mutex, view(use buffer), unlock
//
// Returns ok=false when no frame arrived in time, which is not an error.
// The previous frame is never handed out twice.
//
// Thread-safety: one consumer goroutine.
func (x *Exchange) Read(ctx context.Context, view ViewFunc) (ts int64, ok bool) {
	if x.closed.Load() {
		return 0, false
	}
	ts = x.useTS

	x.mu.Lock()
	if !x.arrived {
		if !x.wait(ctx) {
			x.mu.Unlock()
			return ts, false
		}
	}
	x.pool.SwapUseRead()
	x.arrived = false
	x.mu.Unlock()

	x.convMu.Lock()
	defer x.convMu.Unlock()
	if x.closed.Load() {
		return ts, false
	}
	ub := x.pool.Use()
	x.useTS = ub.Timestamp
	if x.tsMode == TimestampCurrent {
		ts = ub.Timestamp
	}
	start := time.Now()
	if err := view(ub); err != nil {
		x.log.Debug().Err(err).Int64("ts_ms", ts).Msg("exchange: view failed")
		return ts, false
	}
	x.lastTransform.Store(int64(time.Since(start)))
	x.grabs.Add(1)
	return ts, true
}

// wait blocks on the condition variable until a frame arrived. Called and
// returns with x.mu held. A timer and the context broadcast on the
// condition so the loop can re-check its exit conditions.
func (x *Exchange) wait(ctx context.Context) bool {
	deadline := time.Now().Add(x.timeout)
	timer := time.AfterFunc(x.timeout, x.wake)
	defer timer.Stop()
	stop := context.AfterFunc(ctx, x.wake)
	defer stop()

	for !x.arrived {
		if x.closed.Load() || ctx.Err() != nil {
			return false
		}
		if !time.Now().Before(deadline) {
			x.timeouts.Add(1)
			x.log.Debug().Dur("timeout", x.timeout).Msg("exchange: no frame within wait timeout")
			return false
		}
		x.cond.Wait()
	}
	return !x.closed.Load()
}

func (x *Exchange) wake() {
	x.mu.Lock()
	x.cond.Broadcast()
	x.mu.Unlock()
}

// Close releases the buffers and wakes a waiting consumer. Later Writes
// return pixbuf.ErrClosed and Reads return ok=false. Idempotent.
func (x *Exchange) Close() {
	x.convMu.Lock()
	if x.closed.Swap(true) {
		x.convMu.Unlock()
		return
	}
	x.pool.Release()
	x.convMu.Unlock()
	x.wake()
}

// Closed reports whether Close was called.
func (x *Exchange) Closed() bool {
	return x.closed.Load()
}

// Roles returns a snapshot of the role indices.
func (x *Exchange) Roles() pixbuf.Roles {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.pool.Roles()
}

// WaitTimeout returns the configured wait bound.
func (x *Exchange) WaitTimeout() time.Duration {
	return x.timeout
}
