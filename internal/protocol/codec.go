package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrBadHeader is returned when a frame does not start with a known magic byte.
	ErrBadHeader = errors.New("bad header constant")
	// ErrBadLength is returned when a frame declares a length below the header size.
	ErrBadLength = errors.New("bad length")
	// ErrShortPayload is returned by payload parsers on truncated input.
	ErrShortPayload = errors.New("short payload")
)

// ExtractFrame removes one complete frame from the front of buf. It returns
// (nil, nil) when buf does not yet hold a whole frame; in that case buf is
// left untouched. A non-nil error is fatal for the connection.
func ExtractFrame(buf *[]byte) (*Frame, error) {
	b := *buf
	if len(b) < HeaderSize {
		return nil, nil
	}
	if b[0] != MagicGame && b[0] != MagicGPS {
		return nil, ErrBadHeader
	}
	n := int(binary.LittleEndian.Uint16(b[2:4]))
	if n < HeaderSize {
		return nil, ErrBadLength
	}
	if len(b) < n {
		return nil, nil
	}

	data := make([]byte, n)
	copy(data, b[:n])
	*buf = append(b[:0], b[n:]...)

	return &Frame{Magic: data[0], Type: data[1], Data: data}, nil
}

// ExtractAll drains every complete frame from buf in order. Frames decoded
// before a framing error are returned together with the error.
func ExtractAll(buf *[]byte) ([]*Frame, error) {
	var frames []*Frame
	for {
		f, err := ExtractFrame(buf)
		if err != nil {
			return frames, err
		}
		if f == nil {
			return frames, nil
		}
		frames = append(frames, f)
	}
}
