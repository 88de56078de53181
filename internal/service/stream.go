package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/streamrelay/relay-server-go/internal/errors"
	"github.com/streamrelay/relay-server-go/internal/model"
)

type TopicSubscriber interface {
	UserID() string
	CallbackURL() string
	SubscribeToAllTopics(ctx context.Context) []model.TopicResult
}

// SubscriberFactory builds a subscriber for one streamer and connection. It fails if the
// streamer cannot be resolved.
type SubscriberFactory func(ctx context.Context, streamerName, accessToken, connectionID string) (TopicSubscriber, error)

func NewSubscriberFactory(cfg SubscriptionConfig) SubscriberFactory {
	return func(ctx context.Context, streamerName, accessToken, connectionID string) (TopicSubscriber, error) {
		client, err := NewSubscriptionClient(ctx, cfg, streamerName, accessToken, connectionID)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// StreamSetup is sent to the browser once subscription requests for its connection are done.
type StreamSetup struct {
	StreamerID string              `json:"streamerId"`
	Results    []model.TopicResult `json:"results"`
}

type StreamService struct {
	sessions      *SessionService
	newSubscriber SubscriberFactory
}

func NewStreamService(sessions *SessionService, newSubscriber SubscriberFactory) *StreamService {
	return &StreamService{sessions: sessions, newSubscriber: newSubscriber}
}

// Connect subscribes the session's chosen streamer on behalf of connectionID. A session
// without a login or without a chosen streamer is reported as an error, never ignored.
func (s *StreamService) Connect(ctx context.Context, sessionKey, connectionID string) (*StreamSetup, error) {
	token, err := s.sessions.AccessToken(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, apperrors.Unauthorized("Not logged in")
	}

	streamerName, err := s.sessions.StreamerName(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if streamerName == "" {
		return nil, apperrors.MissingRequired("streamer name")
	}

	subscriber, err := s.newSubscriber(ctx, streamerName, token, connectionID)
	if err != nil {
		return nil, err
	}

	results := subscriber.SubscribeToAllTopics(ctx)

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	log.Info().
		Str("connectionId", connectionID).
		Str("streamerId", subscriber.UserID()).
		Str("callback", subscriber.CallbackURL()).
		Int("topics", len(results)).
		Int("failed", failed).
		Msg("stream subscriptions requested")

	return &StreamSetup{StreamerID: subscriber.UserID(), Results: results}, nil
}
