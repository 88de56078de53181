package service

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	apperrors "github.com/streamrelay/relay-server-go/internal/errors"
	"github.com/streamrelay/relay-server-go/internal/metrics"
	"github.com/streamrelay/relay-server-go/internal/util"
)

const (
	authorizeEndpoint = "authorize"
	tokenEndpoint     = "token"
	defaultAuthScope  = "user_read"
)

type AuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	BaseURL      string
	Scope        string
	HTTPClient   *http.Client
}

// AuthClient talks to the identity provider: it builds the consent URL and trades codes for tokens.
type AuthClient struct {
	oauth      *oauth2.Config
	httpClient *http.Client
}

func NewAuthClient(cfg AuthConfig) *AuthClient {
	scope := cfg.Scope
	if scope == "" {
		scope = defaultAuthScope
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &AuthClient{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       strings.Fields(scope),
			Endpoint: oauth2.Endpoint{
				AuthURL:   util.JoinURL(cfg.BaseURL, authorizeEndpoint),
				TokenURL:  util.JoinURL(cfg.BaseURL, tokenEndpoint),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// AuthorizationURL returns the consent page URL. state is echoed back on the redirect.
func (c *AuthClient) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for an access token. There is no retry: a failure
// means the user has to start the login over.
func (c *AuthClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", apperrors.MissingRequired("code")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	start := time.Now()
	token, err := c.oauth.Exchange(ctx, code)
	elapsed := time.Since(start)
	metrics.UpstreamRequestDuration.WithLabelValues("token_exchange").Observe(elapsed.Seconds())

	if err != nil {
		log.Warn().Err(err).Dur("elapsed", elapsed).Msg("access token exchange failed")
		return "", apperrors.AuthError("Failed to obtain access token, please retry login", err)
	}

	log.Debug().Dur("elapsed", elapsed).Msg("access token obtained")
	return token.AccessToken, nil
}
