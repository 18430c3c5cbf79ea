package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventValidate(t *testing.T) {
	evt := Event{WebsiteName: "shop", VisitorID: "visitor-a"}
	assert.NoError(t, evt.Validate())

	assert.ErrorIs(t, (&Event{VisitorID: "visitor-a"}).Validate(), ErrMissingWebsite)
	assert.ErrorIs(t, (&Event{WebsiteName: "shop"}).Validate(), ErrMissingVisitor)
}

func TestEventIsPageVisit(t *testing.T) {
	assert.True(t, (&Event{Type: EventPageVisit, Path: "/home"}).IsPageVisit())
	assert.True(t, (&Event{Type: EventPageVisit, URL: "https://shop.example.com/home"}).IsPageVisit())
	assert.False(t, (&Event{Type: EventPageVisit}).IsPageVisit())
	assert.False(t, (&Event{Type: EventClick, Path: "/home"}).IsPageVisit())
}
