package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pbaille/pulse/internal/domain"
)

const activityColumns = "id, activity_type, app_id, app_window_title, url, platform, timestamp, created_at"

// SaveActivity inserts an activity and returns its id
func (q *queries) SaveActivity(ctx context.Context, a *domain.Activity) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = q.now()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = a.CreatedAt
	}
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO activity (activity_type, app_id, app_window_title, url, platform, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(a.Kind), nullString(a.AppID), nullString(a.WindowTitle), nullString(a.URL),
		string(a.Platform), toNanos(a.Timestamp), toNanos(a.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert activity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("activity id: %w", err)
	}
	a.ID = id
	return id, nil
}

// GetActivity retrieves an activity by id
func (q *queries) GetActivity(ctx context.Context, id int64) (*domain.Activity, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+activityColumns+" FROM activity WHERE id = ?", id)
	a, err := scanActivity(row)
	if err != nil {
		return nil, notFound(err, "get activity")
	}
	return a, nil
}

// ActivitiesAfterID returns the activities recorded after the activity with id
// afterID, in recording order. Timestamps are not consulted, so a late event
// carrying an old timestamp is still returned once.
func (q *queries) ActivitiesAfterID(ctx context.Context, afterID int64) ([]domain.Activity, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT "+activityColumns+" FROM activity WHERE id > ? ORDER BY id ASC", afterID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}

// ActivitiesBetween returns activities with after < timestamp <= until, oldest
// first. A nil after means no lower bound.
func (q *queries) ActivitiesBetween(ctx context.Context, after *time.Time, until time.Time) ([]domain.Activity, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = q.q.QueryContext(ctx,
			"SELECT "+activityColumns+" FROM activity WHERE timestamp <= ? ORDER BY timestamp ASC, id ASC",
			toNanos(until))
	} else {
		rows, err = q.q.QueryContext(ctx,
			"SELECT "+activityColumns+" FROM activity WHERE timestamp > ? AND timestamp <= ? ORDER BY timestamp ASC, id ASC",
			toNanos(*after), toNanos(until))
	}
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var activities []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}

// LastWindowActivityBefore returns the most recent window activity with timestamp <= t
func (q *queries) LastWindowActivityBefore(ctx context.Context, t time.Time) (*domain.Activity, error) {
	row := q.q.QueryRowContext(ctx,
		"SELECT "+activityColumns+` FROM activity
		WHERE activity_type = ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC LIMIT 1`,
		string(domain.ActivityWindow), toNanos(t))
	a, err := scanActivity(row)
	if err != nil {
		return nil, notFound(err, "last window activity")
	}
	return a, nil
}

// SaveBlockedActivity records that a blocked application was brought to front
func (q *queries) SaveBlockedActivity(ctx context.Context, b *domain.BlockedActivity) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = q.now()
	}
	_, err := q.q.ExecContext(ctx,
		"INSERT INTO blocked_activity (id, external_app_id, created_at) VALUES (?, ?, ?)",
		b.ID, b.ExternalAppID, toNanos(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert blocked activity: %w", err)
	}
	return nil
}

// ListBlockedActivities returns all blocked activities, oldest first
func (q *queries) ListBlockedActivities(ctx context.Context) ([]domain.BlockedActivity, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT id, external_app_id, created_at FROM blocked_activity ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("list blocked activities: %w", err)
	}
	defer rows.Close()

	var out []domain.BlockedActivity
	for rows.Next() {
		var (
			b       domain.BlockedActivity
			created int64
		)
		if err := rows.Scan(&b.ID, &b.ExternalAppID, &created); err != nil {
			return nil, fmt.Errorf("scan blocked activity: %w", err)
		}
		b.CreatedAt = fromNanos(created)
		out = append(out, b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActivity(s scanner) (*domain.Activity, error) {
	var (
		a                 domain.Activity
		kind, platform    string
		appID, title, url sql.NullString
		ts, created       int64
	)
	if err := s.Scan(&a.ID, &kind, &appID, &title, &url, &platform, &ts, &created); err != nil {
		return nil, err
	}
	a.Kind = domain.ActivityKind(kind)
	a.Platform = domain.Platform(platform)
	a.AppID = stringPtr(appID)
	a.WindowTitle = stringPtr(title)
	a.URL = stringPtr(url)
	a.Timestamp = fromNanos(ts)
	a.CreatedAt = fromNanos(created)
	return &a, nil
}
