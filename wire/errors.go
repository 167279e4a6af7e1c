package wire

import "errors"

var (
	// ErrBufferTooShort indicates that a buffer is smaller than the minimum
	// header size, or too small for the payload length it declares.
	ErrBufferTooShort = errors.New("buffer too short for frame")

	// ErrIntegrityMismatch indicates that the recomputed integrity token does
	// not match the token carried in the frame. The frame must be discarded.
	ErrIntegrityMismatch = errors.New("integrity token mismatch")

	// ErrUnsupportedCommand indicates a command type outside the recognized
	// closed set. This is a format error, distinct from integrity checking,
	// and is evaluated only after a successful decode.
	ErrUnsupportedCommand = errors.New("unsupported command type")

	// ErrPayloadTooLarge indicates a payload exceeding MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds frame capacity")
)
