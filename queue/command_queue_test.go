package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsefw/pulselink/wire"
)

func cmdFrame(id byte) *wire.Frame {
	return wire.NewFrame(wire.CmdPing, id, nil)
}

func TestCommandQueue_FIFOAndSequence(t *testing.T) {
	q := NewCommandQueue(8)
	now := time.Unix(1000, 0)

	for i := byte(1); i <= 5; i++ {
		require.True(t, q.Enqueue(cmdFrame(i), now, time.Second))
	}
	assert.Equal(t, 5, q.Len())
	assert.Equal(t, uint32(5), q.CurrentSequence())

	var lastSeq uint32
	for i := byte(1); i <= 5; i++ {
		cmd, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, cmd.Frame.ID, "dequeue order must equal enqueue order")
		assert.Greater(t, cmd.Sequence, lastSeq, "sequence numbers must be strictly increasing")
		lastSeq = cmd.Sequence
	}

	_, ok := q.Dequeue()
	assert.False(t, ok)
}

func TestCommandQueue_OverflowNeverEvicts(t *testing.T) {
	q := NewCommandQueue(3)
	now := time.Unix(1000, 0)

	for i := byte(1); i <= 3; i++ {
		require.True(t, q.Enqueue(cmdFrame(i), now, time.Second))
	}
	assert.True(t, q.IsFull())

	assert.False(t, q.Enqueue(cmdFrame(4), now, time.Second))
	assert.False(t, q.Enqueue(cmdFrame(5), now, time.Second))

	assert.Equal(t, 3, q.Len(), "length must stay at capacity")
	assert.Equal(t, uint64(2), q.DroppedCount())

	// Existing entries are intact and in order.
	cmd, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, byte(1), cmd.Frame.ID)

	// Dropped frames never consumed a sequence number.
	assert.Equal(t, uint32(3), q.CurrentSequence())
}

func TestCommandQueue_RemoveTimedOut(t *testing.T) {
	q := NewCommandQueue(8)

	base := time.Unix(0, 0)
	q.Enqueue(cmdFrame(1), base.Add(1000*time.Millisecond), 5000*time.Millisecond)
	q.Enqueue(cmdFrame(2), base.Add(1100*time.Millisecond), 5000*time.Millisecond)
	q.Enqueue(cmdFrame(3), base.Add(1200*time.Millisecond), 5000*time.Millisecond)

	// At t=6000 only the first command has strictly exceeded its timeout:
	// 6000-1000 > 5000 is false (equal), so all three are retained.
	removed := q.RemoveTimedOut(base.Add(6000 * time.Millisecond))
	assert.Zero(t, removed, "boundary is exclusive: elapsed == timeout is retained")
	assert.Equal(t, 3, q.Len())

	// Just past the boundary the first is evicted.
	removed = q.RemoveTimedOut(base.Add(6001 * time.Millisecond))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, q.Len())

	// Far in the future everything goes; timeout_count accumulates.
	removed = q.RemoveTimedOut(base.Add(20 * time.Second))
	assert.Equal(t, 2, removed)
	assert.Equal(t, uint64(3), q.TimeoutCount())
	assert.Zero(t, q.Len())
}

func TestCommandQueue_RemoveTimedOutKeepsOrder(t *testing.T) {
	q := NewCommandQueue(8)
	base := time.Unix(0, 0)

	// Interleave short and long timeouts.
	q.Enqueue(cmdFrame(1), base, 10*time.Millisecond)
	q.Enqueue(cmdFrame(2), base, time.Minute)
	q.Enqueue(cmdFrame(3), base, 10*time.Millisecond)
	q.Enqueue(cmdFrame(4), base, time.Minute)

	removed := q.RemoveTimedOut(base.Add(time.Second))
	assert.Equal(t, 2, removed)

	cmd, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, byte(2), cmd.Frame.ID)
	cmd, ok = q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, byte(4), cmd.Frame.ID)
}

func TestCommandQueue_WrapAround(t *testing.T) {
	q := NewCommandQueue(3)
	now := time.Unix(1000, 0)

	// Cycle the ring several times past its capacity.
	next := byte(1)
	for round := 0; round < 5; round++ {
		require.True(t, q.Enqueue(cmdFrame(next), now, time.Second))
		require.True(t, q.Enqueue(cmdFrame(next+1), now, time.Second))

		cmd, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, next, cmd.Frame.ID)
		cmd, ok = q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, next+1, cmd.Frame.ID)

		next += 2
	}

	assert.Equal(t, uint32(10), q.CurrentSequence())
}

func TestCommandQueue_ResetStats(t *testing.T) {
	q := NewCommandQueue(1)
	now := time.Unix(1000, 0)

	q.Enqueue(cmdFrame(1), now, time.Millisecond)
	q.Enqueue(cmdFrame(2), now, time.Millisecond) // dropped
	q.RemoveTimedOut(now.Add(time.Second))        // evicts #1

	require.Equal(t, uint64(1), q.DroppedCount())
	require.Equal(t, uint64(1), q.TimeoutCount())

	q.ResetStats()
	assert.Zero(t, q.DroppedCount())
	assert.Zero(t, q.TimeoutCount())
	assert.Equal(t, uint32(1), q.CurrentSequence(), "sequence survives a stats reset")
}
