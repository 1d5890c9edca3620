package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// wsPair upgrades n connections against a throwaway server and returns both
// sides. The server side is what Attach and ReadPump consume.
func wsPair(t *testing.T, n int) (server, clients []*websocket.Conn) {
	t.Helper()
	srvConns := make(chan *websocket.Conn, n)
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		srvConns <- c
		<-done
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(done) })

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	for i := 0; i < n; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c, _, err := websocket.Dial(ctx, url, nil)
		cancel()
		require.NoError(t, err)
		clients = append(clients, c)
		server = append(server, <-srvConns)
	}
	return server, clients
}

func TestSessionConcurrentAttachKeepsOneConnection(t *testing.T) {
	serverConns, clientConns := wsPair(t, 2)

	s := newSession("test-session", testLog, SpawnOptions{Command: "sh"})
	defer s.Destroy()

	var wg sync.WaitGroup
	for _, sc := range serverConns {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			assert.NoError(t, s.Attach(context.Background(), c, 0, 0))
		}(sc)
	}
	wg.Wait()

	// exactly one connection survives; the loser is closed with the
	// replacement code rather than silently orphaned
	closed := 0
	for _, c := range clientConns {
		rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
		for {
			_, _, err := c.Read(rctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusGoingAway {
					closed++
				}
				break
			}
		}
		rcancel()
	}
	assert.Equal(t, 1, closed)
}

func TestSessionAttachAfterDestroy(t *testing.T) {
	serverConns, clientConns := wsPair(t, 1)

	s := newSession("test-session", testLog, SpawnOptions{Command: "sh"})
	s.Destroy()

	require.ErrorIs(t, s.Attach(context.Background(), serverConns[0], 0, 0), ErrSessionClosed)

	rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rcancel()
	_, _, err := clientConns[0].Read(rctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestReadPumpDropsMalformedFrames(t *testing.T) {
	serverConns, clientConns := wsPair(t, 1)
	sc, cc := serverConns[0], clientConns[0]

	s := newSession("test-session", testLog, SpawnOptions{Command: "sh"})
	defer s.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, s.Attach(ctx, sc, 0, 0))
	pumpErr := make(chan error, 1)
	go func() { pumpErr <- s.ReadPump(ctx, sc) }()

	// garbage and half-built frames are dropped without ending the pump
	require.NoError(t, cc.Write(ctx, websocket.MessageText, []byte("resize 80 24")))
	require.NoError(t, wsjson.Write(ctx, cc, Frame{Type: "ping"}))
	require.NoError(t, wsjson.Write(ctx, cc, Frame{Type: FrameResize, Cols: 80}))
	require.NoError(t, wsjson.Write(ctx, cc, InputFrame("echo still-alive\n")))

	var sb strings.Builder
	for !strings.Contains(sb.String(), "still-alive") {
		var f Frame
		require.NoError(t, wsjson.Read(ctx, cc, &f), "connection died, got so far: %q", sb.String())
		if f.Type == FrameOutput {
			sb.WriteString(f.Data)
		}
	}

	// only the client closing ends the pump
	cc.Close(websocket.StatusNormalClosure, "tab closed")
	select {
	case err := <-pumpErr:
		assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	case <-time.After(10 * time.Second):
		t.Fatal("read pump did not observe the close")
	}
}
