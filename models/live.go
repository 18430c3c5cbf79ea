// api/models/live.go
package models

import "time"

// Payloads broadcast to dashboard subscribers. Message type names double
// as the wire "type" field on the realtime channel.
const (
	MsgActiveUserCount = "activeUserCount"
	MsgLivePageView    = "livePageView"
	MsgLiveNavigation  = "liveNavigation"
	MsgPagePopularity  = "pagePopularity"
	MsgPageFlow        = "pageFlow"
	MsgPageExit        = "pageExit"
)

type ActiveUserCount struct {
	WebsiteName string `json:"websiteName"`
	Count       int    `json:"count"`
}

type LivePageView struct {
	WebsiteName string    `json:"websiteName"`
	Path        string    `json:"path"`
	VisitorID   string    `json:"visitorId"`
	Timestamp   time.Time `json:"timestamp"`
}

type LiveNavigation struct {
	WebsiteName    string    `json:"websiteName"`
	VisitorID      string    `json:"visitorId"`
	NavigationPath []string  `json:"navigationPath"`
	Timestamp      time.Time `json:"timestamp"`
}

// PageViewers is one path with its current distinct-viewer count.
type PageViewers struct {
	Path    string `json:"path"`
	Viewers int    `json:"viewers"`
}

type PagePopularity struct {
	WebsiteName string        `json:"websiteName"`
	Popularity  []PageViewers `json:"popularity"`
}

// PageFlow splits tracked navigation into the presumed main conversion
// path and everything else. Viewer counts come from live presence data.
type PageFlow struct {
	WebsiteName string   `json:"websiteName"`
	Flow        FlowView `json:"flow"`
}

type FlowView struct {
	MainFlow       []PageViewers `json:"mainFlow"`
	SecondaryPages []PageViewers `json:"secondaryPages"`
}

type PageExit struct {
	WebsiteName string `json:"websiteName"`
	Path        string `json:"path"`
	VisitorID   string `json:"visitorId"`
}
