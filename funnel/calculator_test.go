package funnel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulsetrack/api/models"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pageVisit(session, visitor, path string, offset time.Duration) models.Event {
	return models.Event{
		Type:        models.EventPageVisit,
		SessionID:   session,
		VisitorID:   visitor,
		WebsiteName: "shop",
		Path:        path,
		Timestamp:   baseTime.Add(offset),
	}
}

func customEvent(session, visitor, eventType string, offset time.Duration) models.Event {
	return models.Event{
		Type:        eventType,
		SessionID:   session,
		VisitorID:   visitor,
		WebsiteName: "shop",
		Timestamp:   baseTime.Add(offset),
	}
}

func threeSteps() []models.FunnelStep {
	return []models.FunnelStep{
		{Type: models.StepTypeURL, Value: "/"},
		{Type: models.StepTypeURL, Value: "/pricing"},
		{Type: models.StepTypeEvent, Value: "signup"},
	}
}

func TestCalculate_TwoSessionFunnel(t *testing.T) {
	events := []models.Event{
		pageVisit("x", "visitor-x", "/", 0),
		pageVisit("x", "visitor-x", "/pricing", time.Minute),
		customEvent("x", "visitor-x", "signup", 2*time.Minute),
		pageVisit("y", "visitor-y", "/", 0),
	}

	stats, err := Calculate(context.Background(), threeSteps(), events)
	require.NoError(t, err)
	require.Len(t, stats.Steps, 3)

	assert.Equal(t, 2, stats.Steps[0].Users)
	assert.Equal(t, 1, stats.Steps[1].Users)
	assert.Equal(t, 1, stats.Steps[2].Users)

	assert.Nil(t, stats.Steps[0].Dropoff)
	require.NotNil(t, stats.Steps[1].Dropoff)
	assert.Equal(t, 50.0, *stats.Steps[1].Dropoff)
	require.NotNil(t, stats.Steps[2].Dropoff)
	assert.Equal(t, 0.0, *stats.Steps[2].Dropoff)

	assert.Equal(t, 50.0, stats.ConversionRate)
	require.NotNil(t, stats.HighestDropoff)
	assert.Equal(t, 0, stats.HighestDropoff.StepFrom)
	assert.Equal(t, 1, stats.HighestDropoff.StepTo)
	assert.Equal(t, 50.0, stats.HighestDropoff.Dropoff)
}

func TestCalculate_EmptyWindow(t *testing.T) {
	stats, err := Calculate(context.Background(), threeSteps(), nil)
	require.NoError(t, err)
	require.Len(t, stats.Steps, 3)

	for i, step := range stats.Steps {
		assert.Equal(t, 0, step.Users, "step %d", i)
		assert.Nil(t, step.Dropoff, "step %d", i)
	}
	assert.Equal(t, 0.0, stats.ConversionRate)
	assert.Nil(t, stats.HighestDropoff)
}

func TestCalculate_NoSteps(t *testing.T) {
	stats, err := Calculate(context.Background(), nil, []models.Event{
		pageVisit("x", "visitor-x", "/", 0),
	})
	require.NoError(t, err)
	assert.Empty(t, stats.Steps)
	assert.Equal(t, 0.0, stats.ConversionRate)
	assert.Nil(t, stats.HighestDropoff)
}

func TestCalculate_SingleStep(t *testing.T) {
	steps := []models.FunnelStep{{Type: models.StepTypeURL, Value: "/"}}
	stats, err := Calculate(context.Background(), steps, []models.Event{
		pageVisit("x", "visitor-x", "/", 0),
	})
	require.NoError(t, err)
	require.Len(t, stats.Steps, 1)
	assert.Equal(t, 1, stats.Steps[0].Users)
	assert.Nil(t, stats.Steps[0].Dropoff)
	assert.Equal(t, 100.0, stats.ConversionRate)
	assert.Nil(t, stats.HighestDropoff)
}

// A session must match steps in order: hitting /pricing before / does not
// count for the second step.
func TestCalculate_StepOrderEnforced(t *testing.T) {
	events := []models.Event{
		pageVisit("x", "visitor-x", "/pricing", 0),
		pageVisit("x", "visitor-x", "/", time.Minute),
	}

	stats, err := Calculate(context.Background(), threeSteps(), events)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Steps[0].Users)
	assert.Equal(t, 0, stats.Steps[1].Users)
	assert.Equal(t, 0, stats.Steps[2].Users)
}

// Out-of-order arrival within a session is fixed by the timestamp sort.
func TestCalculate_OutOfOrderEvents(t *testing.T) {
	events := []models.Event{
		customEvent("x", "visitor-x", "signup", 2*time.Minute),
		pageVisit("x", "visitor-x", "/pricing", time.Minute),
		pageVisit("x", "visitor-x", "/", 0),
	}

	stats, err := Calculate(context.Background(), threeSteps(), events)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Steps[0].Users)
	assert.Equal(t, 1, stats.Steps[1].Users)
	assert.Equal(t, 1, stats.Steps[2].Users)
	assert.Equal(t, 100.0, stats.ConversionRate)
}

// Repeating a step within one session must not double-count the visitor.
func TestCalculate_RepeatsDoNotDoubleCount(t *testing.T) {
	events := []models.Event{
		pageVisit("x", "visitor-x", "/", 0),
		pageVisit("x", "visitor-x", "/pricing", time.Minute),
		pageVisit("y", "visitor-x", "/", 2*time.Minute),
		pageVisit("y", "visitor-x", "/pricing", 3*time.Minute),
	}

	stats, err := Calculate(context.Background(), threeSteps(), events)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Steps[0].Users)
	assert.Equal(t, 1, stats.Steps[1].Users)
}

func TestCalculate_StepSetsAreNested(t *testing.T) {
	var events []models.Event
	for i := 0; i < 50; i++ {
		session := fmt.Sprintf("s%d", i)
		visitor := fmt.Sprintf("v%d", i)
		events = append(events, pageVisit(session, visitor, "/", 0))
		if i%2 == 0 {
			events = append(events, pageVisit(session, visitor, "/pricing", time.Minute))
		}
		if i%4 == 0 {
			events = append(events, customEvent(session, visitor, "signup", 2*time.Minute))
		}
	}

	stats, err := Calculate(context.Background(), threeSteps(), events)
	require.NoError(t, err)

	for i := 1; i < len(stats.Steps); i++ {
		assert.LessOrEqual(t, stats.Steps[i].Users, stats.Steps[i-1].Users,
			"step %d must not exceed step %d", i, i-1)
	}
	assert.Equal(t, 50, stats.Steps[0].Users)
	assert.Equal(t, 25, stats.Steps[1].Users)
	assert.Equal(t, 13, stats.Steps[2].Users)
}

func TestCalculate_URLStepNormalizesPaths(t *testing.T) {
	steps := []models.FunnelStep{{Type: models.StepTypeURL, Value: "/pricing"}}
	events := []models.Event{
		pageVisit("x", "visitor-x", "/pricing/", 0),
		{
			Type:        models.EventPageVisit,
			SessionID:   "y",
			VisitorID:   "visitor-y",
			WebsiteName: "shop",
			URL:         "https://shop.example.com/pricing?utm_source=ad",
			Timestamp:   baseTime,
		},
	}

	stats, err := Calculate(context.Background(), steps, events)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Steps[0].Users)
}

func TestCalculate_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := []models.Event{
		pageVisit("x", "visitor-x", "/", 0),
		pageVisit("y", "visitor-y", "/", 0),
	}

	_, err := Calculate(ctx, threeSteps(), events)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculate_ManySessionsParallelMergeIsStable(t *testing.T) {
	var events []models.Event
	for i := 0; i < 500; i++ {
		session := fmt.Sprintf("s%d", i)
		visitor := fmt.Sprintf("v%d", i)
		events = append(events, pageVisit(session, visitor, "/", 0))
		events = append(events, pageVisit(session, visitor, "/pricing", time.Minute))
	}

	want, err := Calculate(context.Background(), threeSteps(), events)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		got, err := Calculate(context.Background(), threeSteps(), events)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
