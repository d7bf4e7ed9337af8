package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pbaille/pulse/internal/domain"
)

const stateColumns = "id, state, app_switches, last_activity_id, start_time, end_time, created_at"

// SaveActivityState inserts an activity state and returns its id
func (q *queries) SaveActivityState(ctx context.Context, s *domain.ActivityState) (int64, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = q.now()
	}
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO activity_state (state, app_switches, last_activity_id, start_time, end_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(s.State), s.AppSwitches, s.LastActivityID, toNanos(s.StartTime), toNanos(s.EndTime), toNanos(s.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert activity state: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("activity state id: %w", err)
	}
	s.ID = id
	return id, nil
}

// GetActivityState retrieves an activity state by id
func (q *queries) GetActivityState(ctx context.Context, id int64) (*domain.ActivityState, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+stateColumns+" FROM activity_state WHERE id = ?", id)
	s, err := scanState(row)
	if err != nil {
		return nil, notFound(err, "get activity state")
	}
	return s, nil
}

// LastActivityState returns the most recently written activity state
func (q *queries) LastActivityState(ctx context.Context) (*domain.ActivityState, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+stateColumns+" FROM activity_state ORDER BY id DESC LIMIT 1")
	s, err := scanState(row)
	if err != nil {
		return nil, notFound(err, "last activity state")
	}
	return s, nil
}

// ActivityStatesStartingBetween returns the states with from <= start_time <= to, oldest first
func (q *queries) ActivityStatesStartingBetween(ctx context.Context, from, to time.Time) ([]domain.ActivityState, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+stateColumns+" FROM activity_state WHERE start_time >= ? AND start_time <= ? ORDER BY start_time, id",
		toNanos(from), toNanos(to))
	if err != nil {
		return nil, fmt.Errorf("list activity states: %w", err)
	}
	defer rows.Close()

	var states []domain.ActivityState
	for rows.Next() {
		s, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity state: %w", err)
		}
		states = append(states, *s)
	}
	return states, rows.Err()
}

func scanState(sc scanner) (*domain.ActivityState, error) {
	var (
		s                       domain.ActivityState
		state                   string
		start, end, createdNano int64
	)
	if err := sc.Scan(&s.ID, &state, &s.AppSwitches, &s.LastActivityID, &start, &end, &createdNano); err != nil {
		return nil, err
	}
	s.State = domain.StateKind(state)
	s.StartTime = fromNanos(start)
	s.EndTime = fromNanos(end)
	s.CreatedAt = fromNanos(createdNano)
	return &s, nil
}
