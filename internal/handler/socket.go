package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/streamrelay/relay-server-go/internal/audit"
	apperrors "github.com/streamrelay/relay-server-go/internal/errors"
	"github.com/streamrelay/relay-server-go/internal/middleware"
	"github.com/streamrelay/relay-server-go/internal/registry"
	"github.com/streamrelay/relay-server-go/internal/service"
	"github.com/streamrelay/relay-server-go/internal/ws"
)

const sessionWriteTimeout = 5 * time.Second

// StreamConnector starts hub subscriptions for a session on behalf of one connection.
type StreamConnector interface {
	Connect(ctx context.Context, sessionKey, connectionID string) (*service.StreamSetup, error)
}

type SocketHandler struct {
	hub          *ws.Hub
	registry     *registry.Registry
	sessions     *service.SessionService
	streams      StreamConnector
	upgrader     websocket.Upgrader
	setupTimeout time.Duration
}

func NewSocketHandler(
	hub *ws.Hub,
	reg *registry.Registry,
	sessions *service.SessionService,
	streams StreamConnector,
	allowedOrigins []string,
	setupTimeout time.Duration,
) *SocketHandler {
	h := &SocketHandler{
		hub:          hub,
		registry:     reg,
		sessions:     sessions,
		streams:      streams,
		setupTimeout: setupTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = originChecker(allowedOrigins)
	}
	return h
}

// ServeHTTP upgrades to a socket and keeps the connection registered until it closes. The
// connection id is announced to the browser and stored in its session.
func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionKey := middleware.GetSessionKey(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("socket upgrade failed")
		return
	}

	client := h.hub.Register(conn)
	h.registry.Add(client.ID)
	defer func() {
		h.registry.Remove(client.ID)
		h.hub.Unregister(client)
	}()

	go client.WritePump()

	ctx, cancel := context.WithTimeout(context.Background(), sessionWriteTimeout)
	if err := h.sessions.SetConnectionID(ctx, sessionKey, client.ID); err != nil {
		log.Warn().Err(err).Str("connectionId", client.ID).Msg("failed to store connection id in session")
	}
	cancel()

	h.push(client.ID, ws.NewMessage(ws.EventConnected, map[string]string{"connectionId": client.ID}))

	err = client.ReadPump(func(msg ws.Message) {
		switch msg.Event {
		case ws.EventStreamConnected:
			go h.startStream(sessionKey, client.ID)
		default:
			log.Debug().Str("connectionId", client.ID).Str("event", msg.Event).Msg("ignoring socket event")
		}
	})

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Warn().Err(err).Str("connectionId", client.ID).Msg("socket closed unexpectedly")
	}
}

// startStream runs outside the read loop so a slow platform API never stalls the socket.
func (h *SocketHandler) startStream(sessionKey, connectionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.setupTimeout)
	defer cancel()

	setup, err := h.streams.Connect(ctx, sessionKey, connectionID)
	if err != nil {
		appErr, ok := apperrors.AsAppError(err)
		if !ok {
			log.Error().Err(err).Str("connectionId", connectionID).Msg("stream setup failed")
			appErr = apperrors.Internal("Subscription setup failed")
		}
		h.push(connectionID, ws.NewMessage(ws.EventSubscriptionError, map[string]string{
			"code":    string(appErr.Code),
			"message": appErr.Message,
		}))
		return
	}

	h.push(connectionID, ws.NewMessage(ws.EventSubscriptions, setup))
}

func (h *SocketHandler) push(connectionID string, msg ws.Message) {
	if err := h.hub.Push(connectionID, msg); err != nil {
		log.Debug().Err(err).Str("connectionId", connectionID).Str("event", msg.Event).Msg("socket push failed")
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	_, wildcard := set["*"]

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		audit.LogFromRequest(r, audit.Event{
			Type:    audit.EventOriginRejected,
			Details: map[string]interface{}{"origin": origin},
		})
		return false
	}
}
