package serial

import (
	"bytes"
	"fmt"
)

// FrameParser extracts one complete frame from the front of buf.
// It returns:
//   - frame: the frame, or nil if buf does not hold a complete one yet
//   - rest: the bytes left over for the next call
//   - err: set when buf can never become a valid frame; the caller drops it
type FrameParser func(buf []byte) (frame []byte, rest []byte, err error)

// MaxFrameSize bounds how much unterminated input is buffered.
const MaxFrameSize = 4096

// ParseLine splits on '\n' and strips a trailing '\r'.
func ParseLine(buf []byte) ([]byte, []byte, error) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		if len(buf) > MaxFrameSize {
			return nil, nil, fmt.Errorf("no line terminator in %d bytes", len(buf))
		}
		return nil, buf, nil
	}
	line := bytes.TrimSuffix(buf[:i], []byte{'\r'})
	frame := append(make([]byte, 0, len(line)), line...)
	return frame, buf[i+1:], nil
}
