package transport

import (
	"encoding/json"

	"github.com/golang/snappy"
)

// Frames are a 1-byte flag followed by the JSON envelope, snappy-compressed
// when the raw encoding exceeds compressThreshold.
const (
	flagRaw    byte = 0x00
	flagSnappy byte = 0x01

	compressThreshold = 512
)

// encodeFrame serializes a message envelope for the wire.
func encodeFrame(msg *Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	if len(raw) <= compressThreshold {
		frame := make([]byte, 0, len(raw)+1)
		frame = append(frame, flagRaw)
		return append(frame, raw...), nil
	}

	compressed := snappy.Encode(nil, raw)
	frame := make([]byte, 0, len(compressed)+1)
	frame = append(frame, flagSnappy)
	return append(frame, compressed...), nil
}

// decodeFrame parses a wire frame back into a message envelope.
func decodeFrame(frame []byte) (*Message, error) {
	if len(frame) < 2 {
		return nil, ErrFrameCorrupt
	}

	body := frame[1:]
	switch frame[0] {
	case flagRaw:
	case flagSnappy:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, ErrFrameCorrupt
		}
		body = decoded
	default:
		return nil, ErrFrameCorrupt
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, ErrFrameCorrupt
	}
	return &msg, nil
}
