// api/store/analytics_store.go
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"pulsetrack/api/database"
	"pulsetrack/api/models"
	"pulsetrack/api/utils"
)

type AnalyticsStore struct {
	DB *database.ClickHouseClient
}

type EventCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func NewAnalyticsStore(chClient *database.ClickHouseClient) *AnalyticsStore {
	return &AnalyticsStore{
		DB: chClient,
	}
}

// InsertEvents batch-inserts raw tracker events. Column order must match
// the tracker_events table schema.
func (s *AnalyticsStore) InsertEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO tracker_events (
			event_id, event_type, visitor_id, session_id, website_name, timestamp,
			page_path, page_url, referrer, element_clicked, time_spent_ms, user_agent, ip_address
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, event := range events {
		err := batch.Append(
			event.EventID,
			event.Type,
			event.VisitorID,
			event.SessionID,
			event.WebsiteName,
			event.Timestamp,
			event.Path,
			event.URL,
			event.Referrer,
			event.ElementClicked,
			event.TimeSpentMs,
			event.UserAgent,
			event.IPAddress,
		)
		if err != nil {
			log.Error().Err(err).Str("event_id", event.EventID).Msg("Error appending event to batch")
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// GetEventWindow fetches one website's events in [start, end], ordered by
// event time. This is the snapshot the funnel calculator replays.
func (s *AnalyticsStore) GetEventWindow(ctx context.Context, websiteName string, start, end time.Time) ([]models.Event, error) {
	query := `
		SELECT event_id, event_type, visitor_id, session_id, website_name, timestamp,
		       page_path, page_url, referrer, element_clicked, time_spent_ms
		FROM tracker_events
		WHERE website_name = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`
	rows, err := s.DB.Conn.Query(ctx, query, websiteName, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query event window: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var evt models.Event
		if err := rows.Scan(
			&evt.EventID,
			&evt.Type,
			&evt.VisitorID,
			&evt.SessionID,
			&evt.WebsiteName,
			&evt.Timestamp,
			&evt.Path,
			&evt.URL,
			&evt.Referrer,
			&evt.ElementClicked,
			&evt.TimeSpentMs,
		); err != nil {
			log.Error().Err(err).Msg("Error scanning event row")
			continue
		}
		events = append(events, evt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event window query: %w", err)
	}
	return events, nil
}

func (s *AnalyticsStore) GetEventCountsOverTime(ctx context.Context, websiteName, interval string, start, end time.Time, eventTypeFilter string) ([]EventCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	args := []interface{}{websiteName, start, end}

	selectCols := fmt.Sprintf("toStartOf%s(timestamp) as time_bucket, count() as total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE website_name = ? AND timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"
	isFilteringByType := eventTypeFilter != ""

	if isFilteringByType {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		args = append(args, eventTypeFilter)
		orderByCols += ", event_type ASC"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM tracker_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols)

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountByTime
	for rows.Next() {
		var (
			timeBucket  time.Time
			count       uint64
			eventTypeDB string
			current     EventCountByTime
		)

		if isFilteringByType {
			if err := rows.Scan(&timeBucket, &count, &eventTypeDB); err != nil {
				log.Error().Err(err).Msg("Error scanning row for event counts over time")
				continue
			}
			current.EventType = &eventTypeDB
		} else {
			if err := rows.Scan(&timeBucket, &count); err != nil {
				log.Error().Err(err).Msg("Error scanning row for event counts over time")
				continue
			}
		}

		current.Time = timeBucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetUniqueVisitorsOverTime(ctx context.Context, websiteName, interval string, start, end time.Time) ([]EventCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, uniq(visitor_id) AS unique_visitors
		FROM tracker_events
		WHERE website_name = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, websiteName, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique visitors over time: %w", err)
	}
	defer rows.Close()

	var results []EventCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var uniqueVisitors uint64
		if err := rows.Scan(&timeBucket, &uniqueVisitors); err != nil {
			log.Error().Err(err).Msg("Error scanning row for unique visitors")
			continue
		}
		results = append(results, EventCountByTime{
			Time:  timeBucket,
			Count: uniqueVisitors,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique visitors: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetTopPagePaths(ctx context.Context, websiteName string, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT page_path, count() as view_count
		FROM tracker_events
		WHERE website_name = ? AND event_type = 'page_visit' AND timestamp >= ? AND timestamp <= ?
		GROUP BY page_path
		ORDER BY view_count DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, websiteName, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top page paths: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var pagePath string
		var count uint64
		if err := rows.Scan(&pagePath, &count); err != nil {
			log.Error().Err(err).Msg("Error scanning row for top page paths")
			continue
		}
		results = append(results, models.TopPathResult{
			PagePath: pagePath,
			Count:    count,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top page paths: %w", err)
	}
	return results, nil
}
