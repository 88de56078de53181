package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/streamrelay/relay-server-go/internal/middleware"
	"github.com/streamrelay/relay-server-go/internal/redis"
	"github.com/streamrelay/relay-server-go/internal/registry"
	"github.com/streamrelay/relay-server-go/internal/repository"
	"github.com/streamrelay/relay-server-go/internal/service"
	"github.com/streamrelay/relay-server-go/internal/util"
	"github.com/streamrelay/relay-server-go/internal/ws"
)

const testSessionKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestSessions(t *testing.T) *service.SessionService {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redis.NewClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	cipher, err := util.NewCipher("")
	require.NoError(t, err)
	return service.NewSessionService(repository.NewRedisSessionRepository(client, time.Hour), cipher)
}

func withSessionKey(r *http.Request, key string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), middleware.SessionKeyContextKey, key))
}

type stubConnector struct {
	mu    sync.Mutex
	setup *service.StreamSetup
	err   error
	calls []string
}

func (s *stubConnector) respond(setup *service.StreamSetup, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setup, s.err = setup, err
}

func (s *stubConnector) Connect(ctx context.Context, sessionKey, connectionID string) (*service.StreamSetup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, connectionID)
	return s.setup, s.err
}

type relayServer struct {
	srv      *httptest.Server
	hub      *ws.Hub
	registry *registry.Registry
	sessions *service.SessionService
	streams  *stubConnector
}

func newRelayServer(t *testing.T, allowedOrigins ...string) *relayServer {
	t.Helper()
	rs := &relayServer{
		hub:      ws.NewHub(),
		registry: registry.New(),
		sessions: newTestSessions(t),
		streams:  &stubConnector{},
	}

	r := chi.NewRouter()
	r.Use(middleware.NewSessionMiddleware(false, time.Hour).Handler)
	r.Mount("/callback", NewCallbackHandler(rs.registry, rs.hub).Routes())
	r.Get("/ws", NewSocketHandler(rs.hub, rs.registry, rs.sessions, rs.streams, allowedOrigins, time.Second).ServeHTTP)

	rs.srv = httptest.NewServer(r)
	t.Cleanup(rs.srv.Close)
	t.Cleanup(rs.hub.Close)
	return rs
}

func (rs *relayServer) dial(t *testing.T, header http.Header) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(rs.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg := readMessage(t, conn)
	require.Equal(t, ws.EventConnected, msg.Event)

	var data struct {
		ConnectionID string `json:"connectionId"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	require.NotEmpty(t, data.ConnectionID)
	return conn, data.ConnectionID
}

func readMessage(t *testing.T, conn *websocket.Conn) ws.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func (rs *relayServer) postCallback(t *testing.T, connectionID, query, body string) *http.Response {
	t.Helper()
	url := rs.srv.URL + "/callback/" + connectionID
	if query != "" {
		url += "?" + query
	}
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}
