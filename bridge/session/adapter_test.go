package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testLog *zap.SugaredLogger

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	testLog = l.Sugar()
}

// collectOutput drains the adapter's output stream until the collected text
// contains want, or the deadline passes.
func collectOutput(t *testing.T, a *Adapter, want string, timeout time.Duration) string {
	t.Helper()
	var sb strings.Builder
	deadline := time.After(timeout)
	for {
		if strings.Contains(sb.String(), want) {
			return sb.String()
		}
		select {
		case chunk, ok := <-a.Output():
			if !ok {
				require.Contains(t, sb.String(), want, "output stream ended early")
				return sb.String()
			}
			sb.Write(chunk)
		case <-deadline:
			require.Contains(t, sb.String(), want, "timed out waiting for output")
			return sb.String()
		}
	}
}

func TestAdapterEcho(t *testing.T) {
	a, err := Spawn(testLog, SpawnOptions{Command: "sh"})
	require.NoError(t, err)
	defer a.Terminate()

	a.Write([]byte("echo hello-from-pty\n"))
	out := collectOutput(t, a, "hello-from-pty", 10*time.Second)
	assert.Contains(t, out, "hello-from-pty")
}

func TestAdapterExitClosesOutput(t *testing.T) {
	a, err := Spawn(testLog, SpawnOptions{Command: "sh", Args: []string{"-c", "exit 7"}})
	require.NoError(t, err)
	defer a.Terminate()

	// drain until the end-of-stream marker
	for range a.Output() {
	}

	select {
	case <-a.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
	assert.False(t, a.Alive())
	assert.Equal(t, 7, a.ExitCode())
}

func TestAdapterResizeAppliesBeforeOutput(t *testing.T) {
	a, err := Spawn(testLog, SpawnOptions{Command: "sh", Cols: 120, Rows: 30})
	require.NoError(t, err)
	defer a.Terminate()

	go func() {
		for range a.Output() {
		}
	}()

	require.NoError(t, a.Resize(80, 24))

	// the shell sees the new geometry on the next read
	a2, err := Spawn(testLog, SpawnOptions{Command: "sh"})
	require.NoError(t, err)
	defer a2.Terminate()
	require.NoError(t, a2.Resize(80, 24))
	a2.Write([]byte("stty size\n"))
	out := collectOutput(t, a2, "24 80", 10*time.Second)
	assert.Contains(t, out, "24 80")
}

func TestAdapterSpawnError(t *testing.T) {
	_, err := Spawn(testLog, SpawnOptions{Command: "/nonexistent-shell-binary"})
	require.Error(t, err)
}

func TestAdapterTerminateIdempotent(t *testing.T) {
	a, err := Spawn(testLog, SpawnOptions{Command: "sh"})
	require.NoError(t, err)

	go func() {
		for range a.Output() {
		}
	}()

	a.Terminate()
	a.Terminate()
	a.Terminate()

	select {
	case <-a.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for terminated shell to be reaped")
	}

	// writes and resizes after exit are silent no-ops
	a.Write([]byte("echo nope\n"))
	require.NoError(t, a.Resize(80, 24))
}

func TestAdapterOutputOrdering(t *testing.T) {
	a, err := Spawn(testLog, SpawnOptions{Command: "sh"})
	require.NoError(t, err)
	defer a.Terminate()

	a.Write([]byte("for i in 1 2 3 4 5; do echo line-$i; done\n"))
	out := collectOutput(t, a, "line-5", 10*time.Second)

	// chunks arrive in production order, so the lines are monotonic
	last := -1
	for i := 1; i <= 5; i++ {
		idx := strings.Index(out, "line-"+string(rune('0'+i)))
		require.Greater(t, idx, last, "line-%d out of order", i)
		last = idx
	}
}
