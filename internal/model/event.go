package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventTimeLayout is the timestamp format shown to the browser.
const EventTimeLayout = "2006-01-02 15:04:05"

// EventNotification is a single hub delivery on its way to one connection.
type EventNotification struct {
	ConnectionID string
	Timestamp    time.Time
	Payload      string
}

func NewEventNotification(connectionID string, at time.Time, payload string) EventNotification {
	return EventNotification{ConnectionID: connectionID, Timestamp: at, Payload: payload}
}

// DeniedPayload is the message pushed instead of a body when the hub denies a subscription.
func DeniedPayload(topic, reason string) string {
	return fmt.Sprintf("Failed to subscribe to topic: %s. Reason: %s", topic, reason)
}

func (e EventNotification) ToSocketData() json.RawMessage {
	data, _ := json.Marshal(map[string]string{
		"timestamp": e.Timestamp.Format(EventTimeLayout),
		"payload":   e.Payload,
	})
	return data
}
