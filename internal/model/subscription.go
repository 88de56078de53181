package model

import "net/url"

// HubMode is the hub.mode value of a hub request or callback.
type HubMode string

const (
	HubModeSubscribe   HubMode = "subscribe"
	HubModeUnsubscribe HubMode = "unsubscribe"
	HubModeDenied      HubMode = "denied"
)

// Topic names, in the order they are subscribed.
const (
	TopicFollowsFrom   = "follows_from"
	TopicFollowsTo     = "follows_to"
	TopicStreamChanged = "stream_changed"
	TopicUserChanged   = "user_changed"
)

// Topic is a filterable platform resource that the hub can watch.
type Topic struct {
	Name   string
	URL    string
	Params url.Values
}

// Subscription is what one hub request asks for. Nothing of it is stored locally.
type Subscription struct {
	Mode         HubMode
	Topic        string
	Callback     string
	LeaseSeconds int
}

// TopicResult reports the outcome of one hub request.
type TopicResult struct {
	Topic  string `json:"topic"`
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}
