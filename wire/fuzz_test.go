package wire

import (
	"bytes"
	"testing"
)

// FuzzDecode verifies that Decode never panics on arbitrary input and that
// every frame it accepts re-encodes to a buffer it accepts again.
func FuzzDecode(f *testing.F) {
	valid, _ := NewFrame(CmdStartTest, 3, []byte{1, 2, 3}).Encode()
	f.Add(valid)
	f.Add(make([]byte, FrameSize))
	f.Add([]byte{})
	f.Add([]byte{0x01, 0x02, 0x3C})

	f.Fuzz(func(t *testing.T, data []byte) {
		frame, err := Decode(data)
		if err != nil {
			return
		}

		buf, err := frame.Encode()
		if err != nil {
			t.Fatalf("decoded frame failed to encode: %v", err)
		}

		again, err := Decode(buf)
		if err != nil {
			t.Fatalf("re-encoded frame failed to decode: %v", err)
		}
		if !again.Equal(frame) {
			t.Fatalf("round-trip mismatch: %+v != %+v", again, frame)
		}
	})
}

// FuzzEncodeDecode verifies the round-trip property for arbitrary field values.
func FuzzEncodeDecode(f *testing.F) {
	f.Add(byte(CmdPing), byte(0), []byte(nil))
	f.Add(byte(RspTestResult), byte(255), bytes.Repeat([]byte{0xAB}, MaxPayloadSize))

	f.Fuzz(func(t *testing.T, typ byte, id byte, payload []byte) {
		if len(payload) > MaxPayloadSize {
			payload = payload[:MaxPayloadSize]
		}

		frame := NewFrame(CommandType(typ), id, payload)
		buf, err := frame.Encode()
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !got.Equal(frame) {
			t.Fatalf("round-trip mismatch: %+v != %+v", got, frame)
		}
	})
}
