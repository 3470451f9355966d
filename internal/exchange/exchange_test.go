package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/camera-capture/internal/pixbuf"
)

const shortWait = 50 * time.Millisecond

func mark(v byte) FillFunc {
	return func(dst *pixbuf.Buffer) error {
		for i := range dst.Pix {
			dst.Pix[i] = v
		}
		return nil
	}
}

func grabMark(t *testing.T, x *Exchange) (int64, byte, bool) {
	t.Helper()
	var got byte
	ts, ok := x.Read(context.Background(), func(src *pixbuf.Buffer) error {
		got = src.Pix[0]
		return nil
	})
	return ts, got, ok
}

func newTestExchange(t *testing.T, opts ...Option) *Exchange {
	t.Helper()
	x, err := New(4, 2, append([]Option{WithWaitTimeout(shortWait)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(x.Close)
	return x
}

// TestExchange_StaleTimestamp documents the default timestamp semantics:
// two writes (100, 200) then one read hands out the 200 frame but reports
// the stamp of the previous use buffer, which is still 0.
func TestExchange_StaleTimestamp(t *testing.T) {
	x := newTestExchange(t)

	require.NoError(t, x.Write(100, mark(1)))
	require.NoError(t, x.Write(200, mark(2)))

	ts, px, ok := grabMark(t, x)
	require.True(t, ok)
	assert.Equal(t, byte(2), px)
	assert.Equal(t, int64(0), ts)
	assert.Equal(t, uint64(1), x.Stats().Drops)

	require.NoError(t, x.Write(300, mark(3)))
	ts, px, ok = grabMark(t, x)
	require.True(t, ok)
	assert.Equal(t, byte(3), px)
	assert.Equal(t, int64(200), ts)
}

func TestExchange_TimestampCurrent(t *testing.T) {
	x := newTestExchange(t, WithTimestampMode(TimestampCurrent))

	require.NoError(t, x.Write(100, mark(1)))
	require.NoError(t, x.Write(200, mark(2)))

	ts, px, ok := grabMark(t, x)
	require.True(t, ok)
	assert.Equal(t, byte(2), px)
	assert.Equal(t, int64(200), ts)
}

// TestExchange_UseBufferRotates checks that write, read, write, read hands
// the consumer two different buffers.
func TestExchange_UseBufferRotates(t *testing.T) {
	x := newTestExchange(t)

	require.NoError(t, x.Write(1, mark(1)))
	_, _, ok := grabMark(t, x)
	require.True(t, ok)
	assert.Equal(t, 0, x.Roles().Use)

	require.NoError(t, x.Write(2, mark(2)))
	_, _, ok = grabMark(t, x)
	require.True(t, ok)
	assert.Equal(t, 1, x.Roles().Use)
	assert.True(t, x.Roles().Valid())
}

// TestExchange_NoFrameTwice: one write followed by N reads yields one frame
// and N-1 timeouts.
func TestExchange_NoFrameTwice(t *testing.T) {
	const reads = 4
	x := newTestExchange(t)

	require.NoError(t, x.Write(1, mark(1)))
	_, _, ok := grabMark(t, x)
	require.True(t, ok)

	for i := 1; i < reads; i++ {
		start := time.Now()
		_, _, ok = grabMark(t, x)
		assert.False(t, ok, "read %d", i)
		assert.GreaterOrEqual(t, time.Since(start), shortWait, "read %d", i)
	}

	st := x.Stats()
	assert.Equal(t, uint64(reads-1), st.Timeouts)
	assert.Equal(t, uint64(1), st.Grabs)
	assert.Equal(t, uint64(1), st.Writes)
}

func TestExchange_ReadWaitsForWriter(t *testing.T) {
	x, err := New(4, 2, WithWaitTimeout(2*time.Second))
	require.NoError(t, err)
	defer x.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = x.Write(7, mark(7))
	}()

	_, px, ok := grabMark(t, x)
	require.True(t, ok)
	assert.Equal(t, byte(7), px)
}

func TestExchange_CloseWakesWaiter(t *testing.T) {
	x, err := New(4, 2, WithWaitTimeout(5*time.Second))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		x.Close()
	}()

	start := time.Now()
	_, _, ok := grabMark(t, x)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)

	assert.ErrorIs(t, x.Write(1, mark(1)), pixbuf.ErrClosed)
	_, _, ok = grabMark(t, x)
	assert.False(t, ok)
	x.Close()
}

func TestExchange_ContextCancelWakesWaiter(t *testing.T) {
	x, err := New(4, 2, WithWaitTimeout(5*time.Second))
	require.NoError(t, err)
	defer x.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := x.Read(ctx, func(*pixbuf.Buffer) error { return nil })
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, x.Stats().Timeouts)
}

func TestExchange_RejectedFillKeepsRoles(t *testing.T) {
	x := newTestExchange(t)
	before := x.Roles()

	err := x.Write(1, func(*pixbuf.Buffer) error { return errors.New("bad frame") })
	require.Error(t, err)
	assert.Equal(t, before, x.Roles())

	st := x.Stats()
	assert.Equal(t, uint64(1), st.Rejected)
	assert.Zero(t, st.Writes)
	assert.False(t, st.Pending)
}

// TestExchange_ConcurrentNoTearing runs a fast producer against a slower
// consumer. Every handed out frame must be internally consistent and every
// write must end up grabbed, dropped or pending.
func TestExchange_ConcurrentNoTearing(t *testing.T) {
	x, err := New(64, 48, WithWaitTimeout(shortWait))
	require.NoError(t, err)
	defer x.Close()

	const n = 500
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= n; i++ {
			assert.NoError(t, x.Write(int64(i), mark(byte(i))))
		}
	}()

	var mu sync.Mutex
	var torn []string
	check := func(src *pixbuf.Buffer) error {
		v := src.Pix[0]
		for i, b := range src.Pix {
			if b != v {
				mu.Lock()
				torn = append(torn, fmt.Sprintf("byte %d: %d != %d", i, b, v))
				mu.Unlock()
				break
			}
		}
		return nil
	}

	for {
		_, ok := x.Read(context.Background(), check)
		assert.True(t, x.Roles().Valid())
		if ok {
			continue
		}
		select {
		case <-done:
		default:
			continue
		}
		break
	}

	assert.Empty(t, torn)
	st := x.Stats()
	pending := uint64(0)
	if st.Pending {
		pending = 1
	}
	assert.Equal(t, st.Writes, st.Grabs+st.Drops+pending)
	assert.Equal(t, uint64(n), st.Writes)
}

func TestParseTimestampMode(t *testing.T) {
	m, err := ParseTimestampMode("current")
	require.NoError(t, err)
	assert.Equal(t, TimestampCurrent, m)

	m, err = ParseTimestampMode("")
	require.NoError(t, err)
	assert.Equal(t, TimestampPrevious, m)
	assert.Equal(t, "previous", m.String())

	_, err = ParseTimestampMode("latest")
	assert.Error(t, err)
}
