package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type discriminators. This is the closed set of wire messages; decoding
// treats anything else as unknown and the caller drops it.
const (
	// FrameInput carries keystroke/paste bytes from the client. "stdin" is
	// accepted as an alias for compatibility with xterm-style clients.
	FrameInput = "input"
	FrameStdin = "stdin"

	// FrameResize carries a terminal geometry change from the client.
	FrameResize = "resize"

	// FrameOutput carries raw shell output to the client.
	FrameOutput = "output"

	// FrameError reports a fatal per-session error (e.g. spawn failure) to the
	// client before the server closes the connection.
	FrameError = "error"

	// FrameExit reports that the shell process ended. It is sent after the
	// last output frame.
	FrameExit = "exit"
)

var (
	// ErrUnknownFrameType is returned for a frame whose type is outside the
	// closed set. Callers drop the frame; it is never fatal.
	ErrUnknownFrameType = errors.New("unknown frame type")

	// ErrMalformedFrame is returned for a frame missing a required payload
	// field or that is not valid JSON. Callers drop the frame.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Frame is the wire envelope. Exactly one frame per WebSocket message, both
// directions.
type Frame struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	Cols     uint16 `json:"cols,omitempty"`
	Rows     uint16 `json:"rows,omitempty"`
	Message  string `json:"message,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
}

func InputFrame(data string) Frame        { return Frame{Type: FrameInput, Data: data} }
func ResizeFrame(cols, rows uint16) Frame { return Frame{Type: FrameResize, Cols: cols, Rows: rows} }
func OutputFrame(data string) Frame       { return Frame{Type: FrameOutput, Data: data} }
func ErrorFrame(msg string) Frame         { return Frame{Type: FrameError, Message: msg} }
func ExitFrame(code int) Frame            { return Frame{Type: FrameExit, ExitCode: code} }

// ParseFrame decodes and validates a single frame. Unknown types and missing
// payload fields are reported as errors so the caller can drop the frame;
// neither affects decoding of subsequent frames.
func ParseFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %s", ErrMalformedFrame, err)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Validate checks that the frame's type is known and its required payload
// fields are present.
func (f Frame) Validate() error {
	switch f.Type {
	case FrameInput, FrameStdin, FrameOutput:
		if f.Data == "" {
			return fmt.Errorf("%w: %q frame without data", ErrMalformedFrame, f.Type)
		}
	case FrameResize:
		if f.Cols == 0 || f.Rows == 0 {
			return fmt.Errorf("%w: resize frame without cols/rows", ErrMalformedFrame)
		}
	case FrameError:
		if f.Message == "" {
			return fmt.Errorf("%w: error frame without message", ErrMalformedFrame)
		}
	case FrameExit:
		// exitCode 0 is omitted on the wire, so there is nothing to require
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFrameType, f.Type)
	}
	return nil
}
