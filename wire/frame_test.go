package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_ComputeToken(t *testing.T) {
	f := &Frame{Type: CmdPing, ID: 7, Payload: []byte{0x01, 0x02}}

	want := tokenSeed ^ byte(CmdPing) ^ 7 ^ 2 ^ 0x01 ^ 0x02
	assert.Equal(t, want, f.ComputeToken())

	// Token changes when any covered field changes.
	g := *f
	g.ID = 8
	assert.NotEqual(t, f.ComputeToken(), g.ComputeToken())
}

func TestEncode_Layout(t *testing.T) {
	f := NewFrame(CmdStartTest, 0x42, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	buf, err := f.Encode()
	require.NoError(t, err)
	require.Len(t, buf, FrameSize)

	assert.Equal(t, byte(CmdStartTest), buf[0])
	assert.Equal(t, byte(0x42), buf[1])
	assert.Equal(t, byte(4), buf[2])
	assert.Equal(t, f.ComputeToken(), buf[3])
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, buf[HeaderSize:HeaderSize+4])

	// Unused trailing bytes are zero-filled.
	for i := HeaderSize + 4; i < FrameSize; i++ {
		assert.Zero(t, buf[i], "padding byte %d must be zero", i)
	}
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	f := &Frame{Type: CmdPing, Payload: make([]byte, MaxPayloadSize+1)}

	_, err := f.Encode()
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestEncodeTo_ClearsStalePadding(t *testing.T) {
	buf := make([]byte, FrameSize)
	for i := range buf {
		buf[i] = 0xFF
	}

	f := NewFrame(CmdPing, 1, []byte{0x55})
	require.NoError(t, f.EncodeTo(buf))

	for i := HeaderSize + 1; i < FrameSize; i++ {
		assert.Zero(t, buf[i], "stale byte %d must be cleared", i)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
		payload []byte
	}{
		{name: "empty payload", frame: NewFrame(CmdPing, 0, nil)},
		{name: "small payload", frame: NewFrame(CmdStartTest, 9, []byte{1, 2, 3})},
		{name: "max payload", frame: NewFrame(RspTestResult, 255, make([]byte, MaxPayloadSize))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := tt.frame.Encode()
			require.NoError(t, err)

			got, err := Decode(buf)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.frame), "decode(encode(frame)) must equal frame")
		})
	}
}

func TestDecode_BufferTooShort(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrBufferTooShort)

	// Declared payload length exceeding the buffer is also a short buffer.
	buf := make([]byte, HeaderSize+2)
	buf[2] = 10
	_, err = Decode(buf)
	require.ErrorIs(t, err, ErrBufferTooShort)

	// Payload length above frame capacity can never be valid.
	buf = make([]byte, FrameSize)
	buf[2] = MaxPayloadSize + 1
	_, err = Decode(buf)
	require.ErrorIs(t, err, ErrBufferTooShort)
}

func TestDecode_SingleBitCorruption(t *testing.T) {
	f := NewFrame(CmdStartTest, 0x11, []byte{0x10, 0x20, 0x30, 0x40, 0x50})
	buf, err := f.Encode()
	require.NoError(t, err)

	// Flipping any single bit of a non-padding byte must be detected.
	for i := 0; i < HeaderSize+len(f.Payload); i++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := make([]byte, FrameSize)
			copy(corrupted, buf)
			corrupted[i] ^= 1 << bit

			got, err := Decode(corrupted)
			if err == nil {
				// A flip in the length byte may shrink the declared payload;
				// the token covers the length, so it still cannot verify.
				t.Fatalf("corruption at byte %d bit %d went undetected: %+v", i, bit, got)
			}
		}
	}
}

func TestDecode_AllZeroBufferRejected(t *testing.T) {
	_, err := Decode(make([]byte, FrameSize))
	require.ErrorIs(t, err, ErrIntegrityMismatch)
}

func TestValidateFormat(t *testing.T) {
	require.NoError(t, ValidateFormat(NewFrame(CmdPing, 1, nil)))
	require.NoError(t, ValidateFormat(NewFrame(CmdEnterBootloader, 1, nil)))
	require.NoError(t, ValidateFormat(NewFrame(RspError, 1, []byte{1})))

	err := ValidateFormat(NewFrame(CommandType(0x33), 1, nil))
	require.ErrorIs(t, err, ErrUnsupportedCommand)
}

func TestCommandType_IsResponse(t *testing.T) {
	assert.False(t, CmdPing.IsResponse())
	assert.False(t, CmdEnterBootloader.IsResponse())
	assert.True(t, RspAck.IsResponse())
	assert.True(t, RspSafetyStatus.IsResponse())
}

func TestErrorFrame_RoundTrip(t *testing.T) {
	f := NewErrorFrame(0x21, ErrCodeParameterInvalid, "duration out of range")

	buf, err := f.Encode()
	require.NoError(t, err)
	got, err := Decode(buf)
	require.NoError(t, err)

	code, detail, err := ParseErrorPayload(got)
	require.NoError(t, err)
	assert.Equal(t, ErrCodeParameterInvalid, code)
	assert.Equal(t, "duration out of range", detail)
}

func TestErrorFrame_TruncatesDetail(t *testing.T) {
	long := make([]byte, 2*MaxPayloadSize)
	for i := range long {
		long[i] = 'x'
	}

	f := NewErrorFrame(1, ErrCodeFormat, string(long))
	require.Len(t, f.Payload, MaxPayloadSize)

	_, err := f.Encode()
	require.NoError(t, err)
}

func TestParseErrorPayload_Rejects(t *testing.T) {
	_, _, err := ParseErrorPayload(NewFrame(RspAck, 1, nil))
	require.Error(t, err)

	_, _, err = ParseErrorPayload(&Frame{Type: RspError, ID: 1})
	require.ErrorIs(t, err, ErrBufferTooShort)
}
