package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ErrSessionClosed is returned when attaching to a destroyed session.
var ErrSessionClosed = errors.New("session closed")

const outboundWriteTimeout = 10 * time.Second

// Session mediates exactly one Adapter and at most one live connection, with
// replace-on-reconnect semantics: a new connection for the same session
// replaces the previous one, it never duplicates it.
type Session struct {
	id      string
	log     *zap.SugaredLogger
	created time.Time

	spawn SpawnOptions

	mu           sync.Mutex
	adapter      *Adapter
	conn         *websocket.Conn
	lastActivity time.Time
	closed       bool
}

func newSession(id string, log *zap.SugaredLogger, spawn SpawnOptions) *Session {
	now := time.Now()
	return &Session{
		id:           id,
		log:          log.With("session", id),
		created:      now,
		spawn:        spawn,
		lastActivity: now,
	}
}

func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.created }

// LastActivity returns the time of the last inbound or outbound frame. It is
// diagnostic only; no idle timeout is enforced.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Alive reports whether the session currently has a running shell.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter != nil && s.adapter.Alive()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Attach binds a connection to the session, closing any previously attached
// connection first. The shell is spawned lazily on the first attach, and
// respawned if a prior shell has exited. A spawn failure is reported to the
// connection as an error frame before the connection is closed, and is fatal
// for the session's caller.
func (s *Session) Attach(ctx context.Context, conn *websocket.Conn, cols, rows uint16) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "session closed")
		return ErrSessionClosed
	}
	prev := s.conn
	s.conn = nil
	s.mu.Unlock()

	if prev != nil {
		s.log.Debug("replacing previous connection")
		prev.Close(websocket.StatusGoingAway, "replaced by newer connection")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "session closed")
		return ErrSessionClosed
	}
	needSpawn := s.adapter == nil || !s.adapter.Alive()
	if needSpawn {
		opts := s.spawn
		opts.Cols, opts.Rows = cols, rows
		ad, err := Spawn(s.log, opts)
		if err != nil {
			s.mu.Unlock()
			werr := fmt.Errorf("spawning shell: %w", err)
			writeFrame(s.log, conn, ErrorFrame(werr.Error()))
			conn.Close(websocket.StatusInternalError, "shell spawn failed")
			return werr
		}
		s.adapter = ad
		go s.pumpOutput(ad)
	}
	// an attach racing on the same session may have bound a connection while
	// the previous one was being closed
	prev = s.conn
	s.conn = conn
	s.lastActivity = time.Now()
	s.mu.Unlock()
	if prev != nil {
		s.log.Debug("replacing connection that attached concurrently")
		prev.Close(websocket.StatusGoingAway, "replaced by newer connection")
	}
	return nil
}

// pumpOutput forwards adapter output chunks to the attached connection, one
// frame per chunk in arrival order, followed by a final exit frame when the
// shell ends. A single goroutine per adapter preserves ordering. Output
// produced while no connection is attached is dropped.
func (s *Session) pumpOutput(ad *Adapter) {
	for chunk := range ad.Output() {
		s.writeFrame(OutputFrame(string(chunk)))
	}
	s.writeFrame(ExitFrame(ad.ExitCode()))
}

func (s *Session) writeFrame(f Frame) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if writeFrame(s.log, conn, f) {
		s.touch()
	}
}

func writeFrame(log *zap.SugaredLogger, conn *websocket.Conn, f Frame) bool {
	ctx, cancel := context.WithTimeout(context.Background(), outboundWriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, f); err != nil {
		log.Debugf("dropping outbound %q frame: %s", f.Type, err)
		return false
	}
	return true
}

// ReadPump reads inbound messages from the connection until it fails or
// closes, dispatching each decoded frame to the adapter. Malformed and
// unknown frames are dropped; only transport-level read errors end the pump.
// The read error is returned so the caller can distinguish a clean close
// (destroy the session) from an abnormal one (detach only).
func (s *Session) ReadPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f, err := ParseFrame(data)
		if err != nil {
			s.log.Debugf("dropping inbound frame: %s", err)
			continue
		}
		s.handleFrame(f)
	}
}

// handleFrame dispatches one decoded inbound frame.
func (s *Session) handleFrame(f Frame) {
	s.mu.Lock()
	ad := s.adapter
	s.mu.Unlock()

	switch f.Type {
	case FrameInput, FrameStdin:
		if ad == nil || !ad.Alive() {
			s.log.Debug("dropping input frame, no running shell")
			return
		}
		ad.Write([]byte(f.Data))
		s.touch()
	case FrameResize:
		if ad == nil {
			return
		}
		if err := ad.Resize(f.Cols, f.Rows); err != nil {
			s.log.Debugf("resize failed: %s", err)
			return
		}
		s.touch()
	default:
		// output/error/exit are server->client only
		s.log.Debugf("dropping inbound %q frame", f.Type)
	}
}

// Detach unbinds the given connection if it is still the attached one. The
// shell keeps running headless for possible reattachment.
func (s *Session) Detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.lastActivity = time.Now()
		s.log.Debug("connection detached, shell kept running")
	}
	s.mu.Unlock()
}

// Destroy detaches any connection and terminates the shell. It is idempotent.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	ad := s.adapter
	s.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusGoingAway, "session destroyed")
	}
	if ad != nil {
		ad.Terminate()
	}
	s.log.Debug("session destroyed")
}
