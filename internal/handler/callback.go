package handler

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/streamrelay/relay-server-go/internal/audit"
	apperrors "github.com/streamrelay/relay-server-go/internal/errors"
	"github.com/streamrelay/relay-server-go/internal/metrics"
	"github.com/streamrelay/relay-server-go/internal/model"
	"github.com/streamrelay/relay-server-go/internal/registry"
	"github.com/streamrelay/relay-server-go/internal/ws"
)

// CallbackHandler receives hub traffic at /callback/{connectionID}: verification challenges,
// denials and notifications. Notifications go only to the socket named in the path.
type CallbackHandler struct {
	registry *registry.Registry
	hub      *ws.Hub
	now      func() time.Time
}

func NewCallbackHandler(reg *registry.Registry, hub *ws.Hub) *CallbackHandler {
	return &CallbackHandler{registry: reg, hub: hub, now: time.Now}
}

func (h *CallbackHandler) Routes(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.With(middlewares...).Get("/{connectionID}", h.ServeHTTP)
	r.With(middlewares...).Post("/{connectionID}", h.ServeHTTP)

	return r
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")
	query := r.URL.Query()

	// challenges are answered for any connection id, live or not
	if challenge, ok := query["hub.challenge"]; ok {
		metrics.CallbacksTotal.WithLabelValues(metrics.CallbackChallenge).Inc()
		log.Info().
			Str("connectionId", connectionID).
			Str("topic", query.Get("hub.topic")).
			Msg("hub challenge answered")

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge[0])
		return
	}

	if !h.registry.Contains(connectionID) {
		h.rejectStale(w, r, connectionID)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperrors.InvalidInput("body", "could not be read"))
		return
	}

	payload := string(body)
	outcome := metrics.CallbackDelivered
	if model.HubMode(query.Get("hub.mode")) == model.HubModeDenied {
		topic, reason := query.Get("hub.topic"), query.Get("hub.reason")
		payload = model.DeniedPayload(topic, reason)
		outcome = metrics.CallbackDenied
		audit.LogFromRequest(r, audit.Event{
			Type:         audit.EventSubscriptionDenied,
			ConnectionID: connectionID,
			Details:      map[string]interface{}{"topic": topic, "reason": reason},
		})
	}

	event := model.NewEventNotification(connectionID, h.now(), payload)
	err = h.hub.Push(connectionID, ws.Message{Event: ws.EventUpdated, Data: event.ToSocketData()})
	switch {
	case errors.Is(err, ws.ErrClientNotFound):
		// socket went away between the registry check and the push
		h.rejectStale(w, r, connectionID)
		return
	case errors.Is(err, ws.ErrBufferFull):
		outcome = metrics.CallbackDropped
	case err != nil:
		log.Error().Err(err).Str("connectionId", connectionID).Msg("failed to push event")
		writeError(w, apperrors.Internal("Failed to deliver event"))
		return
	}

	metrics.CallbacksTotal.WithLabelValues(outcome).Inc()
	log.Debug().
		Str("connectionId", connectionID).
		Str("outcome", outcome).
		Int("bytes", len(body)).
		Msg("hub callback relayed")

	w.WriteHeader(http.StatusOK)
}

func (h *CallbackHandler) rejectStale(w http.ResponseWriter, r *http.Request, connectionID string) {
	metrics.CallbacksTotal.WithLabelValues(metrics.CallbackStale).Inc()
	audit.LogFromRequest(r, audit.Event{
		Type:         audit.EventStaleCallback,
		ConnectionID: connectionID,
		Details:      map[string]interface{}{"method": r.Method},
	})
	writeError(w, apperrors.StaleCallback(connectionID))
}
