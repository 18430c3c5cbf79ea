// api/models/event.go
package models

import (
	"errors"
	"time"
)

// Known tracker event types. The set is extensible: unknown types are
// persisted as-is, but only the types below drive presence state.
const (
	EventPageVisit  = "page_visit"
	EventClick      = "click"
	EventScroll     = "scroll"
	EventSessionEnd = "session_end"
	EventConversion = "conversion"
)

var (
	ErrMissingWebsite = errors.New("event is missing websiteName")
	ErrMissingVisitor = errors.New("event is missing visitorId")
)

// Event is a single behavioral event emitted by the browser tracker.
// Timestamp is event time set by the tracker, not receipt time.
type Event struct {
	EventID        string    `json:"eventId"`
	Type           string    `json:"type"`
	VisitorID      string    `json:"visitorId"`
	SessionID      string    `json:"sessionId"`
	WebsiteName    string    `json:"websiteName"`
	Path           string    `json:"path"`
	URL            string    `json:"url,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Referrer       string    `json:"referrer,omitempty"`
	ElementClicked string    `json:"elementClicked,omitempty"`
	TimeSpentMs    int64     `json:"timeSpent,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
	IPAddress      string    `json:"ipAddress,omitempty"`
}

// Validate checks the fields every consumer depends on. Optional fields
// (referrer, elementClicked, timeSpent) are passed through untouched.
func (e *Event) Validate() error {
	if e.WebsiteName == "" {
		return ErrMissingWebsite
	}
	if e.VisitorID == "" {
		return ErrMissingVisitor
	}
	return nil
}

// IsPageVisit reports whether the event should drive a page transition.
func (e *Event) IsPageVisit() bool {
	return e.Type == EventPageVisit && (e.Path != "" || e.URL != "")
}

type TopPathResult struct {
	PagePath string `json:"pagePath"`
	Count    uint64 `json:"count"`
}
