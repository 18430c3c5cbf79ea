package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"pulsetrack/api/models"
)

var ErrFunnelNotFound = errors.New("funnel not found")

// FunnelStore persists funnel definitions. Step shape is validated here,
// before a definition can reach the calculator.
type FunnelStore struct {
	db *sql.DB
}

func NewFunnelStore(db *sql.DB) *FunnelStore {
	return &FunnelStore{db: db}
}

// CreateFunnel validates and stores a definition. Steps live in a JSONB
// column; their stored order is the conversion order measured.
func (s *FunnelStore) CreateFunnel(ctx context.Context, userID int, name, websiteName string, steps []models.FunnelStep) (*models.Funnel, error) {
	if err := models.ValidateFunnelSteps(steps); err != nil {
		return nil, err
	}

	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal funnel steps: %w", err)
	}

	funnel := &models.Funnel{
		UserID:      userID,
		Name:        name,
		WebsiteName: websiteName,
		Steps:       steps,
	}
	query := `
		INSERT INTO funnels (user_id, name, website_name, steps)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at;
	`
	err = s.db.QueryRowContext(ctx, query, userID, name, websiteName, stepsJSON).Scan(
		&funnel.ID,
		&funnel.CreatedAt,
		&funnel.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create funnel: %w", err)
	}
	return funnel, nil
}

// GetFunnel loads one definition scoped to its owner.
func (s *FunnelStore) GetFunnel(ctx context.Context, funnelID, userID int) (*models.Funnel, error) {
	funnel := &models.Funnel{}
	var stepsJSON []byte
	query := `
		SELECT id, user_id, name, website_name, steps, created_at, updated_at
		FROM funnels
		WHERE id = $1 AND user_id = $2;
	`
	err := s.db.QueryRowContext(ctx, query, funnelID, userID).Scan(
		&funnel.ID,
		&funnel.UserID,
		&funnel.Name,
		&funnel.WebsiteName,
		&stepsJSON,
		&funnel.CreatedAt,
		&funnel.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrFunnelNotFound
		}
		return nil, fmt.Errorf("failed to get funnel: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &funnel.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal funnel steps: %w", err)
	}
	return funnel, nil
}

// ListFunnels returns a user's definitions, newest first.
func (s *FunnelStore) ListFunnels(ctx context.Context, userID int) ([]models.Funnel, error) {
	query := `
		SELECT id, user_id, name, website_name, steps, created_at, updated_at
		FROM funnels
		WHERE user_id = $1
		ORDER BY created_at DESC;
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list funnels: %w", err)
	}
	defer rows.Close()

	var funnels []models.Funnel
	for rows.Next() {
		var funnel models.Funnel
		var stepsJSON []byte
		if err := rows.Scan(
			&funnel.ID,
			&funnel.UserID,
			&funnel.Name,
			&funnel.WebsiteName,
			&stepsJSON,
			&funnel.CreatedAt,
			&funnel.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan funnel row: %w", err)
		}
		if err := json.Unmarshal(stepsJSON, &funnel.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal funnel steps: %w", err)
		}
		funnels = append(funnels, funnel)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error listing funnels: %w", err)
	}
	return funnels, nil
}

func (s *FunnelStore) DeleteFunnel(ctx context.Context, funnelID, userID int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM funnels WHERE id = $1 AND user_id = $2;`, funnelID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete funnel: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return ErrFunnelNotFound
	}
	return nil
}
