// Package bridge exposes terminal sessions over HTTP: a WebSocket endpoint
// carrying the frame protocol, plus health and diagnostics routes.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/webpad/termbridge/bridge/session"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"nhooyr.io/websocket"
)

// SessionHeader is the HTTP response header on the WebSocket upgrade that
// tells the client its session id, so it can reattach after a disconnect.
const SessionHeader = "X-Termbridge-Session"

// Bridge is the HTTP server that owns the session registry. One Bridge serves
// all tabs of all clients; each tab drives one WebSocket connection at a time.
type Bridge struct {
	logger     *zap.SugaredLogger
	listenAddr string
	spawn      session.SpawnOptions

	registry   *session.Registry
	httpServer *http.Server
}

type Option func(b *Bridge)

func WithListenAddr(s string) Option {
	return func(b *Bridge) {
		b.listenAddr = s
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		b.logger = l.Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(b *Bridge) {
		b.logger = b.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// WithShell sets the shell binary for new sessions. Empty falls back to
// $SHELL and then /bin/bash.
func WithShell(cmd string, args ...string) Option {
	return func(b *Bridge) {
		b.spawn.Command = cmd
		b.spawn.Args = args
	}
}

// WithWorkDir sets the working directory for new shells. Empty inherits the
// server's.
func WithWorkDir(dir string) Option {
	return func(b *Bridge) {
		b.spawn.Dir = dir
	}
}

// WithEnv appends environment entries for new shells.
func WithEnv(env ...string) Option {
	return func(b *Bridge) {
		b.spawn.Env = append(b.spawn.Env, env...)
	}
}

// New constructs a Bridge.
func New(opts ...Option) (*Bridge, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	b := &Bridge{
		logger:     logger.Named("bridge").Sugar(),
		listenAddr: "127.0.0.1:8088",
	}
	for _, o := range opts {
		o(b)
	}
	b.registry = session.NewRegistry(b.logger, b.spawn)
	return b, nil
}

// Registry exposes the session registry, mainly for tests and embedding.
func (b *Bridge) Registry() *session.Registry { return b.registry }

// Run serves until Stop is called.
func (b *Bridge) Run() error {
	listener, err := net.Listen("tcp", b.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	router := httprouter.New()
	router.GET("/health", b.health)
	router.GET("/sessions", b.listSessions)
	router.GET("/ws/pty", b.terminalWS)

	server := http.Server{Handler: router}
	b.httpServer = &server

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the HTTP server and destroys every session, terminating all
// shells.
func (b *Bridge) Stop() error {
	var err error
	if b.httpServer != nil {
		err = b.httpServer.Close()
	}
	b.registry.Close()
	return err
}

func (b *Bridge) health(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"service":  "termbridge",
		"sessions": b.registry.Len(),
	})
}

func (b *Bridge) listSessions(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b.registry.Sessions())
}

// terminalWS upgrades the connection and binds it to a session. The query
// params are: "session" to reattach to an existing session, "cols" and "rows"
// for the initial geometry of a freshly spawned shell.
func (b *Bridge) terminalWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	q := r.URL.Query()

	var sess *session.Session
	if id := q.Get("session"); id != "" {
		var err error
		sess, err = b.registry.Get(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	} else {
		sess = b.registry.Create()
	}

	w.Header().Set(SessionHeader, sess.ID())
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		b.logger.Debugf("error accepting WebSocket conn: %s", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	b.logger.Debugw("accepted WebSocket conn", "Session", sess.ID())

	if err := sess.Attach(r.Context(), wsConn, queryUint16(q.Get("cols")), queryUint16(q.Get("rows"))); err != nil {
		b.logger.Debugf("attach failed: %s", err)
		if errors.Is(err, session.ErrSessionClosed) {
			return
		}
		// spawn failure: the error frame has been sent, tear the session down
		b.registry.Destroy(sess.ID())
		return
	}

	err = sess.ReadPump(r.Context(), wsConn)
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		// explicit tab close: the shell goes down with the session
		b.logger.Debugw("clean close, destroying session", "Session", sess.ID())
		b.registry.Destroy(sess.ID())
		return
	}
	b.logger.Debugw("connection lost, detaching", "Session", sess.ID(), "Error", err)
	sess.Detach(wsConn)
}

func queryUint16(s string) uint16 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0
	}
	return uint16(n)
}
