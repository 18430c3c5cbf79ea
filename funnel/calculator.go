// Package funnel computes conversion statistics by replaying a historical
// event window against an ordered step definition. It is stateless: the
// caller resolves the definition and fetches the event snapshot.
package funnel

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"pulsetrack/api/models"
	"pulsetrack/api/utils"
)

// Calculate walks every session in events once against the ordered steps
// and produces per-step unique-user counts, dropoff percentages, the
// overall conversion rate and the worst step transition.
//
// The definition is assumed pre-validated; an empty step list yields empty
// stats and an empty event window yields zeroed stats, never an error.
// Sessions are independent, so they are walked in parallel and the
// per-step visitor sets merged afterwards. ctx cancels the walk.
func Calculate(ctx context.Context, steps []models.FunnelStep, events []models.Event) (models.FunnelStats, error) {
	stats := models.FunnelStats{
		Steps: make([]models.FunnelStepResult, 0, len(steps)),
	}
	if len(steps) == 0 {
		return stats, nil
	}

	sessions := groupBySession(events)
	stepSets, err := walkSessions(ctx, steps, sessions)
	if err != nil {
		return models.FunnelStats{}, err
	}

	for i, step := range steps {
		result := models.FunnelStepResult{Step: step, Users: len(stepSets[i])}
		if i > 0 && len(stepSets[i-1]) > 0 {
			prev := float64(len(stepSets[i-1]))
			curr := float64(len(stepSets[i]))
			dropoff := utils.Round2((prev - curr) / prev * 100)
			result.Dropoff = &dropoff
		}
		stats.Steps = append(stats.Steps, result)
	}

	first := stats.Steps[0].Users
	last := stats.Steps[len(stats.Steps)-1].Users
	if first > 0 && last > 0 {
		stats.ConversionRate = utils.Round2(float64(last) / float64(first) * 100)
	}

	for i := 1; i < len(stats.Steps); i++ {
		dropoff := stats.Steps[i].Dropoff
		if dropoff == nil {
			continue
		}
		if stats.HighestDropoff == nil || *dropoff > stats.HighestDropoff.Dropoff {
			stats.HighestDropoff = &models.FunnelDropoff{
				StepFrom: i - 1,
				StepTo:   i,
				Dropoff:  *dropoff,
			}
		}
	}

	return stats, nil
}

// groupBySession buckets the window by sessionId and sorts each bucket by
// event time ascending, so each walk sees the session in order.
func groupBySession(events []models.Event) [][]models.Event {
	buckets := make(map[string][]models.Event)
	for _, evt := range events {
		buckets[evt.SessionID] = append(buckets[evt.SessionID], evt)
	}

	sessions := make([][]models.Event, 0, len(buckets))
	for _, session := range buckets {
		sort.SliceStable(session, func(i, j int) bool {
			return session[i].Timestamp.Before(session[j].Timestamp)
		})
		sessions = append(sessions, session)
	}
	return sessions
}

// walkSessions shards sessions across workers, each accumulating its own
// per-step visitor sets, then merges. No shared mutable state during the
// walk itself.
func walkSessions(ctx context.Context, steps []models.FunnelStep, sessions [][]models.Event) ([]map[string]struct{}, error) {
	merged := newStepSets(len(steps))
	if len(sessions) == 0 {
		return merged, nil
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > len(sessions) {
		workers = len(sessions)
	}

	work := make(chan []models.Event)
	partials := make([][]map[string]struct{}, workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			local := newStepSets(len(steps))
			partials[w] = local
			for session := range work {
				walkSession(steps, session, local)
			}
		}(w)
	}

	var walkErr error
feed:
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			walkErr = err
			break
		}
		select {
		case <-ctx.Done():
			walkErr = ctx.Err()
			break feed
		case work <- session:
		}
	}
	close(work)
	wg.Wait()

	if walkErr != nil {
		return nil, walkErr
	}

	for _, local := range partials {
		for i, set := range local {
			for visitorID := range set {
				merged[i][visitorID] = struct{}{}
			}
		}
	}
	return merged, nil
}

// walkSession advances a step cursor over one time-ordered session. A url
// step matches on normalized path, an event step on event type. The
// matched event's visitor joins that step's set; the walk stops once the
// cursor passes the last step. Reaching step i therefore implies the
// session matched step i-1 first, which is what keeps step sets nested.
func walkSession(steps []models.FunnelStep, session []models.Event, stepSets []map[string]struct{}) {
	cursor := 0
	for _, evt := range session {
		if cursor >= len(steps) {
			break
		}
		if !stepMatches(steps[cursor], evt) {
			continue
		}
		stepSets[cursor][evt.VisitorID] = struct{}{}
		cursor++
	}
}

func stepMatches(step models.FunnelStep, evt models.Event) bool {
	switch step.Type {
	case models.StepTypeURL:
		raw := evt.Path
		if raw == "" {
			raw = evt.URL
		}
		if raw == "" {
			return false
		}
		return utils.NormalizePath(raw) == utils.NormalizePath(step.Value)
	case models.StepTypeEvent:
		return evt.Type == step.Value
	default:
		return false
	}
}

func newStepSets(n int) []map[string]struct{} {
	sets := make([]map[string]struct{}, n)
	for i := range sets {
		sets[i] = make(map[string]struct{})
	}
	return sets
}
