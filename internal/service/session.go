package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/streamrelay/relay-server-go/internal/errors"
	"github.com/streamrelay/relay-server-go/internal/model"
	"github.com/streamrelay/relay-server-go/internal/repository"
	"github.com/streamrelay/relay-server-go/internal/util"
)

// SessionService reads and writes browser session fields. Callers pass the raw session key from
// the cookie; only its hash reaches the store, and the access token is sealed before it does.
type SessionService struct {
	repo   repository.SessionRepository
	cipher *util.Cipher
}

func NewSessionService(repo repository.SessionRepository, cipher *util.Cipher) *SessionService {
	return &SessionService{repo: repo, cipher: cipher}
}

// Get returns "" for a field that was never set or whose session expired.
func (s *SessionService) Get(ctx context.Context, sessionKey, field string) (string, error) {
	value, _, err := s.repo.Get(ctx, util.HashToken(sessionKey), field)
	if err != nil {
		return "", apperrors.Database(err)
	}
	return value, nil
}

func (s *SessionService) Set(ctx context.Context, sessionKey, field, value string) error {
	if err := s.repo.Set(ctx, util.HashToken(sessionKey), field, value); err != nil {
		return apperrors.Database(err)
	}
	return nil
}

func (s *SessionService) AccessToken(ctx context.Context, sessionKey string) (string, error) {
	sealed, err := s.Get(ctx, sessionKey, model.SessionFieldAccessToken)
	if err != nil || sealed == "" {
		return "", err
	}

	token, err := s.cipher.Open(sealed)
	if err != nil {
		// unreadable after a key rotation; the user logs in again
		log.Warn().Err(err).Msg("stored access token could not be opened")
		return "", nil
	}
	return token, nil
}

func (s *SessionService) SetAccessToken(ctx context.Context, sessionKey, token string) error {
	sealed, err := s.cipher.Seal(token)
	if err != nil {
		return apperrors.Internal("failed to seal access token").WithCause(err)
	}
	return s.Set(ctx, sessionKey, model.SessionFieldAccessToken, sealed)
}

func (s *SessionService) StreamerName(ctx context.Context, sessionKey string) (string, error) {
	return s.Get(ctx, sessionKey, model.SessionFieldStreamerName)
}

func (s *SessionService) SetStreamerName(ctx context.Context, sessionKey, name string) error {
	return s.Set(ctx, sessionKey, model.SessionFieldStreamerName, name)
}

func (s *SessionService) SetConnectionID(ctx context.Context, sessionKey, connectionID string) error {
	return s.Set(ctx, sessionKey, model.SessionFieldConnectionID, connectionID)
}

func (s *SessionService) SetOAuthState(ctx context.Context, sessionKey, state string) error {
	return s.Set(ctx, sessionKey, model.SessionFieldOAuthState, state)
}

// ConsumeOAuthState returns the pending login state and removes it, so a state is honored once.
func (s *SessionService) ConsumeOAuthState(ctx context.Context, sessionKey string) (string, error) {
	state, _, err := s.repo.TakeField(ctx, util.HashToken(sessionKey), model.SessionFieldOAuthState)
	if err != nil {
		return "", apperrors.Database(err)
	}
	return state, nil
}

func (s *SessionService) Destroy(ctx context.Context, sessionKey string) error {
	if err := s.repo.Delete(ctx, util.HashToken(sessionKey)); err != nil {
		return apperrors.Database(err)
	}
	return nil
}
