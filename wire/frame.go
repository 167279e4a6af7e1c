package wire

import "fmt"

// FrameSize is the fixed size of every frame on the wire.
const FrameSize = 64

// HeaderSize is the fixed size of the frame header
// (type, id, payload length, integrity token).
const HeaderSize = 4

// MaxPayloadSize is the payload capacity of a frame.
const MaxPayloadSize = FrameSize - HeaderSize

// tokenSeed is folded into every integrity token so that an all-zero
// buffer does not decode as a valid frame.
const tokenSeed byte = 0xA5

// Frame is one decoded command or response message.
//
// The integrity token is not stored; it is derived deterministically from
// the other fields with ComputeToken, written by Encode and verified by
// Decode.
type Frame struct {
	Type    CommandType
	ID      byte
	Payload []byte // at most MaxPayloadSize bytes
}

// NewFrame creates a frame with a copy of payload.
func NewFrame(t CommandType, id byte, payload []byte) *Frame {
	f := &Frame{Type: t, ID: id}
	if len(payload) > 0 {
		f.Payload = make([]byte, len(payload))
		copy(f.Payload, payload)
	}

	return f
}

// ComputeToken derives the integrity token: a seeded XOR fold over the
// command type, command id, payload length, and payload bytes.
func (f *Frame) ComputeToken() byte {
	token := tokenSeed ^ byte(f.Type) ^ f.ID ^ byte(len(f.Payload))
	for _, b := range f.Payload {
		token ^= b
	}

	return token
}

// Encode serializes the frame to its 64-byte wire format with the payload
// zero-padded and the integrity token filled in.
//
// Returns ErrPayloadTooLarge if the payload exceeds MaxPayloadSize.
func (f *Frame) Encode() ([]byte, error) {
	buf := make([]byte, FrameSize)
	if err := f.EncodeTo(buf); err != nil {
		return nil, err
	}

	return buf, nil
}

// EncodeTo serializes the frame into buf, which must be at least FrameSize
// bytes. It exists so the device-side transmit path can reuse a fixed buffer.
func (f *Frame) EncodeTo(buf []byte) error {
	if len(f.Payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(f.Payload), MaxPayloadSize)
	}
	if len(buf) < FrameSize {
		return fmt.Errorf("%w: encode buffer is %d bytes, want %d", ErrBufferTooShort, len(buf), FrameSize)
	}

	buf[0] = byte(f.Type)
	buf[1] = f.ID
	buf[2] = byte(len(f.Payload))
	buf[3] = f.ComputeToken()
	copy(buf[HeaderSize:], f.Payload)

	// Zero the padding; stale bytes must never leak onto the wire.
	for i := HeaderSize + len(f.Payload); i < FrameSize; i++ {
		buf[i] = 0
	}

	return nil
}

// Decode parses and authenticates a frame from buf.
//
// It returns:
//   - ErrBufferTooShort if buf is smaller than the header, or too small for
//     the payload length the header declares;
//   - ErrIntegrityMismatch if the recomputed token differs from byte 3.
//
// The returned frame owns a copy of the payload bytes.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, want at least %d", ErrBufferTooShort, len(buf), HeaderSize)
	}

	payloadLen := int(buf[2])
	if payloadLen > MaxPayloadSize || HeaderSize+payloadLen > len(buf) {
		return nil, fmt.Errorf("%w: declared payload %d bytes, buffer holds %d",
			ErrBufferTooShort, payloadLen, len(buf)-HeaderSize)
	}

	f := &Frame{
		Type: CommandType(buf[0]),
		ID:   buf[1],
	}
	if payloadLen > 0 {
		f.Payload = make([]byte, payloadLen)
		copy(f.Payload, buf[HeaderSize:HeaderSize+payloadLen])
	}

	if token := f.ComputeToken(); token != buf[3] {
		return nil, fmt.Errorf("%w: wire=0x%02X, computed=0x%02X", ErrIntegrityMismatch, buf[3], token)
	}

	return f, nil
}

// ValidateFormat rejects frames whose command type is outside the
// recognized set. It is distinct from integrity checking and runs after a
// successful decode.
func ValidateFormat(f *Frame) error {
	if !f.Type.Valid() {
		return fmt.Errorf("%w: 0x%02X", ErrUnsupportedCommand, byte(f.Type))
	}

	return nil
}

// Equal reports whether two frames carry the same type, id, and payload.
func (f *Frame) Equal(other *Frame) bool {
	if f.Type != other.Type || f.ID != other.ID || len(f.Payload) != len(other.Payload) {
		return false
	}
	for i, b := range f.Payload {
		if b != other.Payload[i] {
			return false
		}
	}

	return true
}

// --- Response builders ---

// NewAckFrame builds an RspAck response correlated to cmdID, echoing up to
// MaxPayloadSize bytes of echo.
func NewAckFrame(cmdID byte, echo []byte) *Frame {
	if len(echo) > MaxPayloadSize {
		echo = echo[:MaxPayloadSize]
	}

	return NewFrame(RspAck, cmdID, echo)
}

// NewErrorFrame builds an RspError response: one ErrorCode byte followed by
// an optional ASCII diagnostic string, truncated to fit the frame.
func NewErrorFrame(cmdID byte, code ErrorCode, detail string) *Frame {
	if len(detail) > MaxPayloadSize-1 {
		detail = detail[:MaxPayloadSize-1]
	}

	payload := make([]byte, 1+len(detail))
	payload[0] = byte(code)
	copy(payload[1:], detail)

	return &Frame{Type: RspError, ID: cmdID, Payload: payload}
}

// ParseErrorPayload extracts the error code and diagnostic string from an
// RspError frame.
func ParseErrorPayload(f *Frame) (ErrorCode, string, error) {
	if f.Type != RspError {
		return 0, "", fmt.Errorf("wire: frame type %s is not an error response", f.Type)
	}
	if len(f.Payload) < 1 {
		return 0, "", fmt.Errorf("%w: error response without error code", ErrBufferTooShort)
	}

	return ErrorCode(f.Payload[0]), string(f.Payload[1:]), nil
}
