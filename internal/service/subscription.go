package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/streamrelay/relay-server-go/internal/errors"
	"github.com/streamrelay/relay-server-go/internal/metrics"
	"github.com/streamrelay/relay-server-go/internal/model"
	"github.com/streamrelay/relay-server-go/internal/util"
)

const (
	DefaultLeaseSeconds = 1000
	DefaultAPITimeout   = 90 * time.Second

	usersEndpoint   = "users"
	followsEndpoint = "users/follows"
	streamsEndpoint = "streams"
	hubEndpoint     = "webhooks/hub"

	maxErrorBodyBytes = 512
)

type SubscriptionConfig struct {
	APIBaseURL      string
	ClientID        string
	CallbackBaseURL string
	LeaseSeconds    int
	// IncludeUserChanges adds the user_changed topic. It only takes effect with an https callback base.
	IncludeUserChanges bool
	// RequestTimeout bounds each hub request on its own, apart from the caller's deadline.
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// SubscriptionClient manages hub subscriptions for one streamer on behalf of one socket connection.
type SubscriptionClient struct {
	cfg          SubscriptionConfig
	httpClient   *http.Client
	accessToken  string
	connectionID string
	streamerName string
	userID       string
}

type usersResponse struct {
	Data []struct {
		ID    string `json:"id"`
		Login string `json:"login"`
	} `json:"data"`
}

// NewSubscriptionClient resolves streamerName to a platform user id before returning. No hub
// request is made if the lookup fails.
func NewSubscriptionClient(ctx context.Context, cfg SubscriptionConfig, streamerName, accessToken, connectionID string) (*SubscriptionClient, error) {
	if streamerName == "" {
		return nil, apperrors.MissingRequired("streamer name")
	}
	if cfg.LeaseSeconds <= 0 {
		cfg.LeaseSeconds = DefaultLeaseSeconds
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultAPITimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultAPITimeout}
	}

	c := &SubscriptionClient{
		cfg:          cfg,
		httpClient:   httpClient,
		accessToken:  accessToken,
		connectionID: connectionID,
		streamerName: streamerName,
	}

	userID, err := c.lookupUserID(ctx)
	if err != nil {
		return nil, err
	}
	c.userID = userID
	return c, nil
}

func (c *SubscriptionClient) UserID() string { return c.userID }

// CallbackURL is the per-connection address the hub delivers notifications to.
func (c *SubscriptionClient) CallbackURL() string {
	return util.JoinURL(c.cfg.CallbackBaseURL, c.connectionID)
}

// Topics lists the topics subscribed for the streamer, in request order.
func (c *SubscriptionClient) Topics() []model.Topic {
	followsURL := util.JoinURL(c.cfg.APIBaseURL, followsEndpoint)
	topics := []model.Topic{
		{Name: model.TopicFollowsFrom, URL: followsURL, Params: url.Values{"from_id": {c.userID}}},
		{Name: model.TopicFollowsTo, URL: followsURL, Params: url.Values{"to_id": {c.userID}}},
		{Name: model.TopicStreamChanged, URL: util.JoinURL(c.cfg.APIBaseURL, streamsEndpoint), Params: url.Values{"user_id": {c.userID}}},
	}

	// the hub only delivers user changes over https
	if c.cfg.IncludeUserChanges && strings.HasPrefix(c.cfg.CallbackBaseURL, "https://") {
		topics = append(topics, model.Topic{
			Name:   model.TopicUserChanged,
			URL:    util.JoinURL(c.cfg.APIBaseURL, usersEndpoint),
			Params: url.Values{"id": {c.userID}},
		})
	}
	return topics
}

// SubscribeToAllTopics issues one subscribe request per topic. Requests are independent: a
// failed topic is recorded in its result and the remaining topics are still attempted. Each
// request gets its own RequestTimeout, so a slow topic cannot use up the time of later ones.
func (c *SubscriptionClient) SubscribeToAllTopics(ctx context.Context) []model.TopicResult {
	topics := c.Topics()
	results := make([]model.TopicResult, 0, len(topics))

	for _, topic := range topics {
		sub := model.Subscription{
			Mode:         model.HubModeSubscribe,
			Topic:        util.WithQuery(topic.URL, topic.Params),
			Callback:     c.CallbackURL(),
			LeaseSeconds: c.cfg.LeaseSeconds,
		}

		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
		status, err := c.sendHubRequest(reqCtx, sub)
		cancel()
		result := model.TopicResult{Topic: topic.Name, OK: err == nil, Status: status}
		if err != nil {
			result.Error = err.Error()
			metrics.SubscriptionRequestsTotal.WithLabelValues(topic.Name, metrics.ResultFailed).Inc()
			log.Warn().Err(err).
				Str("topic", topic.Name).
				Str("connectionId", c.connectionID).
				Int("status", status).
				Msg("topic subscription failed")
		} else {
			metrics.SubscriptionRequestsTotal.WithLabelValues(topic.Name, metrics.ResultOK).Inc()
			log.Info().
				Str("topic", topic.Name).
				Str("connectionId", c.connectionID).
				Str("userId", c.userID).
				Msg("topic subscription requested")
		}
		results = append(results, result)
	}

	return results
}

// UnsubscribeFromAllTopics is not supported yet; subscriptions lapse when their lease expires.
func (c *SubscriptionClient) UnsubscribeFromAllTopics(ctx context.Context) error {
	return apperrors.NotImplemented("unsubscribe from all topics")
}

func (c *SubscriptionClient) lookupUserID(ctx context.Context) (string, error) {
	endpoint := util.WithQuery(util.JoinURL(c.cfg.APIBaseURL, usersEndpoint), url.Values{"login": {c.streamerName}})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", apperrors.Transport("user lookup", err)
	}
	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.UpstreamRequestDuration.WithLabelValues("user_lookup").Observe(time.Since(start).Seconds())
	if err != nil {
		return "", apperrors.Transport("user lookup", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("user lookup", resp); err != nil {
		return "", err
	}

	var body usersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperrors.Transport("user lookup", fmt.Errorf("decode response: %w", err))
	}
	if len(body.Data) == 0 {
		return "", apperrors.UserNotFound(c.streamerName)
	}

	log.Debug().Str("login", c.streamerName).Str("userId", body.Data[0].ID).Msg("streamer resolved")
	return body.Data[0].ID, nil
}

func (c *SubscriptionClient) sendHubRequest(ctx context.Context, sub model.Subscription) (int, error) {
	form := url.Values{
		"hub.mode":          {string(sub.Mode)},
		"hub.topic":         {sub.Topic},
		"hub.callback":      {sub.Callback},
		"hub.lease_seconds": {strconv.Itoa(sub.LeaseSeconds)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, util.JoinURL(c.cfg.APIBaseURL, hubEndpoint), strings.NewReader(form.Encode()))
	if err != nil {
		return 0, apperrors.Transport("hub request", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.UpstreamRequestDuration.WithLabelValues("hub_request").Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, apperrors.Transport("hub request", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("hub request", resp); err != nil {
		return resp.StatusCode, err
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (c *SubscriptionClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Client-ID", c.cfg.ClientID)
}

func checkStatus(operation string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return apperrors.AuthError("Access token rejected, please log in again", cause)
	}
	return apperrors.Transport(operation, cause).WithDetails(map[string]int{"status": resp.StatusCode})
}
