package session

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

const (
	// DefaultCols and DefaultRows are applied when a connection supplies no
	// initial geometry.
	DefaultCols uint16 = 120
	DefaultRows uint16 = 30

	outputBufSize = 32 * 1024
)

// SpawnOptions configures the shell process under an Adapter.
type SpawnOptions struct {
	// Command is the shell binary. Empty resolves to $SHELL, then /bin/bash.
	Command string
	Args    []string

	// Cols and Rows are the initial PTY geometry. Zero values use the
	// defaults.
	Cols uint16
	Rows uint16

	// Dir is the working directory. Empty inherits the server's.
	Dir string

	// Env entries are appended to the server's environment.
	Env []string
}

// Adapter owns exactly one interactive shell process and its pseudo-terminal.
// It exposes writes, resizes, a chunked output stream, and idempotent
// termination. The owning Session must call Terminate on every exit path.
type Adapter struct {
	log  *zap.SugaredLogger
	cmd  *exec.Cmd
	ptmx *os.File

	out  chan []byte
	done chan struct{}

	mu       sync.Mutex
	exitCode int

	terminateOnce sync.Once
}

// Spawn starts a shell on a new pseudo-terminal. A failure here is fatal for
// the owning Session.
func Spawn(log *zap.SugaredLogger, opts SpawnOptions) (*Adapter, error) {
	command := opts.Command
	if command == "" {
		command = os.Getenv("SHELL")
	}
	if command == "" {
		command = "/bin/bash"
	}
	cols, rows := opts.Cols, opts.Rows
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}

	cmd := exec.Command(command, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("starting shell %q on pty: %w", command, err)
	}
	log.Debugw("spawned shell", "Command", command, "PID", cmd.Process.Pid, "Cols", cols, "Rows", rows)

	a := &Adapter{
		log:  log,
		cmd:  cmd,
		ptmx: ptmx,
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	go a.readOutput()
	return a, nil
}

// readOutput copies PTY output into the output channel in arrival order, then
// reaps the process. Closing the channel is the end-of-stream marker.
func (a *Adapter) readOutput() {
	buf := make([]byte, outputBufSize)
	for {
		n, err := a.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			a.out <- chunk
		}
		if err != nil {
			break
		}
	}

	a.cmd.Wait()
	a.mu.Lock()
	a.exitCode = a.cmd.ProcessState.ExitCode()
	a.mu.Unlock()
	a.log.Debugw("shell exited", "PID", a.cmd.Process.Pid, "ExitCode", a.cmd.ProcessState.ExitCode())

	close(a.out)
	close(a.done)
}

// Output returns the shell's output stream. Chunks arrive in production order
// and the channel closes when the process exits.
func (a *Adapter) Output() <-chan []byte { return a.out }

// Done is closed once the process has exited and been reaped.
func (a *Adapter) Done() <-chan struct{} { return a.done }

// Alive reports whether the process has not yet exited.
func (a *Adapter) Alive() bool {
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the process exit code. Valid only after Done is closed.
func (a *Adapter) ExitCode() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exitCode
}

// Write enqueues input bytes for the shell. It silently no-ops once the
// process has exited; a concurrent exit is not a caller error.
func (a *Adapter) Write(p []byte) {
	if !a.Alive() {
		return
	}
	if _, err := a.ptmx.Write(p); err != nil {
		a.log.Debugf("dropping %d input bytes: %s", len(p), err)
	}
}

// Resize adjusts the PTY window size. It has no effect after exit.
func (a *Adapter) Resize(cols, rows uint16) error {
	if !a.Alive() {
		return nil
	}
	if err := pty.Setsize(a.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("resizing pty to %dx%d: %w", cols, rows, err)
	}
	return nil
}

// Terminate requests process exit. It is idempotent and does not block
// waiting for the exit; the read goroutine reaps the process.
func (a *Adapter) Terminate() {
	a.terminateOnce.Do(func() {
		if a.cmd.Process != nil {
			a.cmd.Process.Kill()
		}
		a.ptmx.Close()
	})
}
