package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		expFrame Frame
		expErr   error
	}{
		{
			name:     "input",
			raw:      `{"type":"input","data":"ls\n"}`,
			expFrame: Frame{Type: FrameInput, Data: "ls\n"},
		},
		{
			name:     "stdin alias",
			raw:      `{"type":"stdin","data":"echo hi\n"}`,
			expFrame: Frame{Type: FrameStdin, Data: "echo hi\n"},
		},
		{
			name:     "resize",
			raw:      `{"type":"resize","cols":80,"rows":24}`,
			expFrame: Frame{Type: FrameResize, Cols: 80, Rows: 24},
		},
		{
			name:     "output",
			raw:      `{"type":"output","data":"hi\r\n"}`,
			expFrame: Frame{Type: FrameOutput, Data: "hi\r\n"},
		},
		{
			name:     "exit with zero code",
			raw:      `{"type":"exit"}`,
			expFrame: Frame{Type: FrameExit},
		},
		{
			name:     "error",
			raw:      `{"type":"error","message":"spawn failed"}`,
			expFrame: Frame{Type: FrameError, Message: "spawn failed"},
		},
		{
			name:   "unknown type ignored without crash",
			raw:    `{"type":"ping"}`,
			expErr: ErrUnknownFrameType,
		},
		{
			name:   "input without data",
			raw:    `{"type":"input"}`,
			expErr: ErrMalformedFrame,
		},
		{
			name:   "resize without rows",
			raw:    `{"type":"resize","cols":80}`,
			expErr: ErrMalformedFrame,
		},
		{
			name:   "error without message",
			raw:    `{"type":"error"}`,
			expErr: ErrMalformedFrame,
		},
		{
			name:   "not json",
			raw:    `resize 80 24`,
			expErr: ErrMalformedFrame,
		},
		{
			name:   "missing type",
			raw:    `{"data":"x"}`,
			expErr: ErrUnknownFrameType,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f, err := ParseFrame([]byte(c.raw))
			if c.expErr != nil {
				require.ErrorIs(t, err, c.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expFrame, f)
		})
	}
}

func TestFrameEncodingOmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(ResizeFrame(80, 24))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"resize","cols":80,"rows":24}`, string(b))

	b, err = json.Marshal(OutputFrame("hi"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"output","data":"hi"}`, string(b))
}
