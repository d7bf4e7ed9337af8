package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pbaille/pulse/internal/domain"
)

const appColumns = "id, external_id, name, platform, is_browser, is_default, is_blocked, created_at, updated_at"

// CreateApp inserts a new application, assigning an id when missing.
// A second application with the same external id yields ErrDuplicate.
func (q *queries) CreateApp(ctx context.Context, app *domain.Application) error {
	if app.ID == "" {
		app.ID = uuid.New().String()
	}
	now := q.now()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now

	_, err := q.q.ExecContext(ctx,
		"INSERT INTO app ("+appColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		app.ID, app.ExternalID, app.Name, string(app.Platform),
		app.IsBrowser, app.IsDefault, app.IsBlocked,
		toNanos(app.CreatedAt), toNanos(app.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert app %s: %w", app.ExternalID, ErrDuplicate)
		}
		return fmt.Errorf("insert app: %w", err)
	}
	return nil
}

// AppByExternalID finds an application by its external id
func (q *queries) AppByExternalID(ctx context.Context, externalID string) (*domain.Application, error) {
	row := q.q.QueryRowContext(ctx, "SELECT "+appColumns+" FROM app WHERE external_id = ?", externalID)
	app, err := scanApp(row)
	if err != nil {
		return nil, notFound(err, "find app")
	}
	return app, nil
}

// ListApps returns all applications ordered by external id
func (q *queries) ListApps(ctx context.Context) ([]domain.Application, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT "+appColumns+" FROM app ORDER BY external_id")
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		apps = append(apps, *app)
	}
	return apps, rows.Err()
}

// SetAppBlocked flags or unflags an application as blocked
func (q *queries) SetAppBlocked(ctx context.Context, externalID string, blocked bool) error {
	res, err := q.q.ExecContext(ctx,
		"UPDATE app SET is_blocked = ?, updated_at = ? WHERE external_id = ?",
		blocked, toNanos(q.now()), externalID,
	)
	if err != nil {
		return fmt.Errorf("update app: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update app %s: %w", externalID, ErrNotFound)
	}
	return nil
}

// AttachAppTag associates a tag with an application. Existing links are left untouched.
func (q *queries) AttachAppTag(ctx context.Context, appID, tagID string, weight float64) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO app_tag (app_id, tag_id, weight, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (app_id, tag_id) DO NOTHING`,
		appID, tagID, weight, toNanos(q.now()),
	)
	if err != nil {
		return fmt.Errorf("link app tag: %w", err)
	}
	return nil
}

func scanApp(s scanner) (*domain.Application, error) {
	var (
		app              domain.Application
		platform         string
		created, updated int64
	)
	err := s.Scan(&app.ID, &app.ExternalID, &app.Name, &platform,
		&app.IsBrowser, &app.IsDefault, &app.IsBlocked, &created, &updated)
	if err != nil {
		return nil, err
	}
	app.Platform = domain.Platform(platform)
	app.CreatedAt = fromNanos(created)
	app.UpdatedAt = fromNanos(updated)
	return &app, nil
}
