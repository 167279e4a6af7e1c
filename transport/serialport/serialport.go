// Package serialport adapts a serial port to the 64-byte frame transport
// contract. Bytes arriving from the UART are accumulated until a whole
// frame is available; partial frames never reach the codec.
package serialport

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/pulsefw/pulselink/wire"
)

// readTimeout keeps Port.Read from blocking the poll routine; a timed-out
// read reports zero bytes.
const readTimeout = time.Millisecond

// Transport is a frame transport over one serial port.
//
// ReadFrame and WriteFrame are not individually goroutine-safe; the device
// controller and host client each drive their transport from a single
// routine per direction.
type Transport struct {
	port serial.Port

	acc     [wire.FrameSize]byte
	accused int

	scratch [wire.FrameSize]byte
}

// Open opens the named port at the given baud rate, 8N1.
func Open(portName string, baud int) (*Transport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()

		return nil, fmt.Errorf("serialport: set read timeout: %w", err)
	}

	return &Transport{port: port}, nil
}

// ReadFrame copies one whole frame into buf when enough bytes have
// accumulated, or returns (0, nil) while a frame is still partial.
func (t *Transport) ReadFrame(buf []byte) (int, error) {
	if len(buf) < wire.FrameSize {
		return 0, fmt.Errorf("%w: read buffer is %d bytes, want %d",
			wire.ErrBufferTooShort, len(buf), wire.FrameSize)
	}

	need := wire.FrameSize - t.accused
	n, err := t.port.Read(t.scratch[:need])
	if err != nil {
		return 0, fmt.Errorf("serialport: read: %w", err)
	}

	copy(t.acc[t.accused:], t.scratch[:n])
	t.accused += n

	if t.accused < wire.FrameSize {
		return 0, nil
	}

	copy(buf, t.acc[:])
	t.accused = 0

	return wire.FrameSize, nil
}

// WriteFrame writes one whole frame, looping through short writes.
func (t *Transport) WriteFrame(buf []byte) error {
	if len(buf) < wire.FrameSize {
		return fmt.Errorf("%w: write buffer is %d bytes, want %d",
			wire.ErrBufferTooShort, len(buf), wire.FrameSize)
	}

	remaining := buf[:wire.FrameSize]
	for len(remaining) > 0 {
		n, err := t.port.Write(remaining)
		if err != nil {
			return fmt.Errorf("serialport: write: %w", err)
		}
		remaining = remaining[n:]
	}

	return nil
}

// Close releases the port.
func (t *Transport) Close() error {
	return t.port.Close()
}
