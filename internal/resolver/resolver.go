// Package resolver gives every application or website a durable identity.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pbaille/pulse/internal/domain"
	"github.com/pbaille/pulse/internal/store"
)

// DefaultTagWeight is the weight of the tag attached to new applications
const DefaultTagWeight = 1.0

// Store is the persistence the resolver needs
type Store interface {
	AppByExternalID(ctx context.Context, externalID string) (*domain.Application, error)
	CreateApp(ctx context.Context, app *domain.Application) error
	TagByName(ctx context.Context, name string) (*domain.Tag, error)
	AttachAppTag(ctx context.Context, appID, tagID string, weight float64) error
}

// Resolver maps window events to applications
type Resolver struct {
	store      Store
	defaultTag string
	logger     *slog.Logger
}

// New creates a resolver that tags new applications with the neutral tag
func New(s Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:      s,
		defaultTag: domain.TagNeutral,
		logger:     logger.With("component", "resolver"),
	}
}

// Resolve returns the application behind a window event, creating it and
// attaching the default tag on first sight. Two concurrent first sights of
// the same application resolve to the same row.
func (r *Resolver) Resolve(ctx context.Context, e domain.WindowEvent) (*domain.Application, error) {
	externalID := domain.ExternalID(e)
	if externalID == "" {
		return nil, fmt.Errorf("resolve app: window event carries no identity")
	}

	app, err := r.store.AppByExternalID(ctx, externalID)
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	app = domain.NewApplication(e)
	err = r.store.CreateApp(ctx, app)
	switch {
	case err == nil:
		r.logger.InfoContext(ctx, "new application", "external_id", app.ExternalID, "app_id", app.ID)
	case errors.Is(err, store.ErrDuplicate):
		// Lost a first-sight race: continue with the winner's row and make sure
		// its default tag exists, the winner may not have attached it yet.
		app, err = r.store.AppByExternalID(ctx, externalID)
		if err != nil {
			return nil, err
		}
		r.logger.DebugContext(ctx, "application created concurrently", "external_id", externalID)
	default:
		return nil, err
	}

	if err := r.attachDefaultTag(ctx, app); err != nil {
		return nil, err
	}
	return app, nil
}

func (r *Resolver) attachDefaultTag(ctx context.Context, app *domain.Application) error {
	tag, err := r.store.TagByName(ctx, r.defaultTag)
	if err != nil {
		return fmt.Errorf("default tag for %s: %w", app.ExternalID, err)
	}
	return r.store.AttachAppTag(ctx, app.ID, tag.ID, DefaultTagWeight)
}
