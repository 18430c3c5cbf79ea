// api/models/funnel.go
package models

import (
	"fmt"
	"time"
)

// Funnel step matchers. A url step matches on normalized page path,
// an event step matches on event type.
const (
	StepTypeURL   = "url"
	StepTypeEvent = "event"
)

const (
	MinFunnelSteps = 1
	MaxFunnelSteps = 5
)

var ErrStepCount = fmt.Errorf("a funnel needs between %d and %d steps", MinFunnelSteps, MaxFunnelSteps)

type FunnelStep struct {
	Type  string `json:"type" binding:"required"`
	Value string `json:"value" binding:"required"`
}

// Funnel is a stored conversion-funnel definition. Steps are ordered:
// their order is the conversion order being measured.
type Funnel struct {
	ID          int          `json:"id"`
	UserID      int          `json:"userId"`
	Name        string       `json:"name"`
	WebsiteName string       `json:"websiteName"`
	Steps       []FunnelStep `json:"steps"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// ValidateFunnelSteps enforces the step-count and step-shape rules at the
// API boundary, before a definition ever reaches the calculator.
func ValidateFunnelSteps(steps []FunnelStep) error {
	if len(steps) < MinFunnelSteps || len(steps) > MaxFunnelSteps {
		return ErrStepCount
	}
	for i, step := range steps {
		if step.Type != StepTypeURL && step.Type != StepTypeEvent {
			return fmt.Errorf("step %d has unknown type %q", i, step.Type)
		}
		if step.Value == "" {
			return fmt.Errorf("step %d has an empty value", i)
		}
	}
	return nil
}

// FunnelStepResult is one step's share of a funnel computation. Dropoff is
// nil for the first step and whenever the preceding step counted no users.
type FunnelStepResult struct {
	Step    FunnelStep `json:"step"`
	Users   int        `json:"users"`
	Dropoff *float64   `json:"dropoff"`
}

type FunnelDropoff struct {
	StepFrom int     `json:"stepFrom"`
	StepTo   int     `json:"stepTo"`
	Dropoff  float64 `json:"dropoff"`
}

type FunnelStats struct {
	Steps          []FunnelStepResult `json:"steps"`
	ConversionRate float64            `json:"conversionRate"`
	HighestDropoff *FunnelDropoff     `json:"highestDropoff"`
}
