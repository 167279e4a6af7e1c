// Package loopback provides an in-memory frame transport: two connected
// ends over buffered channels, with optional fault injection for exercising
// the link's corruption detection and retry paths.
package loopback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pulsefw/pulselink/wire"
)

// ErrClosed is returned by reads and writes on a closed end.
var ErrClosed = errors.New("loopback: transport closed")

// DefaultDepth is the per-direction frame buffer of Pair.
const DefaultDepth = 32

type frame [wire.FrameSize]byte

// End is one side of a loopback link. It satisfies the frame transport
// contract: ReadFrame never blocks and returns (0, nil) when no frame is
// pending.
type End struct {
	in  chan frame
	out chan frame

	mu           sync.Mutex
	writes       uint64
	dropEvery    uint64
	corruptEvery uint64
	corruptPos   int
	corruptMask  byte

	closed atomic.Bool
}

// Pair returns two connected ends with DefaultDepth frame buffers.
func Pair() (*End, *End) {
	ab := make(chan frame, DefaultDepth)
	ba := make(chan frame, DefaultDepth)

	return &End{in: ba, out: ab}, &End{in: ab, out: ba}
}

// SetDropEvery makes every n-th written frame vanish. Zero disables drops.
func (e *End) SetDropEvery(n uint64) {
	e.mu.Lock()
	e.dropEvery = n
	e.mu.Unlock()
}

// SetCorruptEvery flips mask in byte pos of every n-th written frame.
// Zero n disables corruption.
func (e *End) SetCorruptEvery(n uint64, pos int, mask byte) {
	e.mu.Lock()
	e.corruptEvery = n
	e.corruptPos = pos % wire.FrameSize
	e.corruptMask = mask
	e.mu.Unlock()
}

// ReadFrame copies one pending frame into buf, returning its size, or
// (0, nil) when nothing is pending.
func (e *End) ReadFrame(buf []byte) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	if len(buf) < wire.FrameSize {
		return 0, fmt.Errorf("%w: read buffer is %d bytes, want %d", wire.ErrBufferTooShort, len(buf), wire.FrameSize)
	}

	select {
	case f := <-e.in:
		copy(buf, f[:])

		return wire.FrameSize, nil
	default:
		return 0, nil
	}
}

// WriteFrame sends one 64-byte frame to the peer, applying any configured
// fault injection. A saturated link returns an error instead of blocking.
func (e *End) WriteFrame(buf []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(buf) < wire.FrameSize {
		return fmt.Errorf("%w: write buffer is %d bytes, want %d", wire.ErrBufferTooShort, len(buf), wire.FrameSize)
	}

	var f frame
	copy(f[:], buf)

	e.mu.Lock()
	e.writes++
	drop := e.dropEvery > 0 && e.writes%e.dropEvery == 0
	if !drop && e.corruptEvery > 0 && e.writes%e.corruptEvery == 0 {
		f[e.corruptPos] ^= e.corruptMask
	}
	e.mu.Unlock()

	if drop {
		return nil
	}

	select {
	case e.out <- f:
		return nil
	default:
		return errors.New("loopback: link saturated")
	}
}

// Close stops both reads and writes on this end.
func (e *End) Close() {
	e.closed.Store(true)
}
