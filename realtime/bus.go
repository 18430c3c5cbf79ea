// Package realtime is the pub/sub channel between the presence engine and
// connected clients. Subscribers join named groups; publishing fans out to
// every current subscriber of the group.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrBusClosed = errors.New("bus is closed")

// Message is the envelope carried on a group channel. Payload is already
// marshaled so one publish can fan out without re-encoding per subscriber.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage wraps a payload into a Message.
func NewMessage(msgType string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: data}, nil
}

// Bus publishes messages to subscriber groups. Subscribe returns a channel
// that is closed when ctx is done or the bus shuts down; a slow subscriber
// may miss messages rather than block the publisher.
type Bus interface {
	Publish(ctx context.Context, group string, msg Message) error
	Subscribe(ctx context.Context, group string) (<-chan Message, error)
	Close() error
}

const dashboardGroupPrefix = "dashboard-"

// VisitorGroup returns the group key for visitor-side subscribers of a
// website.
func VisitorGroup(websiteName string) string {
	return websiteName
}

// DashboardGroup returns the group key dashboards of a website subscribe
// to for aggregated broadcasts.
func DashboardGroup(websiteName string) string {
	return dashboardGroupPrefix + websiteName
}
