// Package tagger derives the productivity tags of a classified window.
package tagger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pbaille/pulse/internal/domain"
	"github.com/pbaille/pulse/internal/store"
)

// ErrMissingTag means a well-known tag was not seeded. It is a configuration
// error and must not be retried.
var ErrMissingTag = errors.New("well-known tag missing")

// Store is the persistence the tagger needs. *store.Store and *store.Tx implement it.
type Store interface {
	LastWindowActivityBefore(ctx context.Context, t time.Time) (*domain.Activity, error)
	DefaultTagsForApps(ctx context.Context, appIDs []string) (map[string][]domain.Tag, error)
	TagByName(ctx context.Context, name string) (*domain.Tag, error)
	AddStateTags(ctx context.Context, links []domain.StateTag) (int64, error)
}

// Engine attaches tags to activity states
type Engine struct {
	logger *slog.Logger
}

// New creates a tag derivation engine
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger.With("component", "tagger")}
}

// Idle attaches the idle tag to an inactive state
func (e *Engine) Idle(ctx context.Context, st Store, stateID int64) ([]domain.StateTag, error) {
	idle, err := wellKnown(ctx, st, domain.TagIdle)
	if err != nil {
		return nil, err
	}
	links := []domain.StateTag{{ActivityStateID: stateID, TagID: idle.ID}}
	if _, err := st.AddStateTags(ctx, links); err != nil {
		return nil, err
	}
	return links, nil
}

// Derive attaches the default tags of the applications used in activities to
// the state. When the window holds no window change, the application focused
// before windowStart is used. Applications without default tags contribute the
// consuming tag, so every state ends up with at least one tag. Running Derive
// twice for the same state adds nothing.
func (e *Engine) Derive(ctx context.Context, st Store, stateID int64, windowStart time.Time, activities []domain.Activity) ([]domain.StateTag, error) {
	appIDs := windowApps(activities)
	if len(appIDs) == 0 {
		prev, err := st.LastWindowActivityBefore(ctx, windowStart)
		switch {
		case err == nil:
			if prev.AppID != nil {
				appIDs = []string{*prev.AppID}
			}
			e.logger.DebugContext(ctx, "no window change, using previously focused app", "app_ids", appIDs)
		case errors.Is(err, store.ErrNotFound):
			// nothing was ever focused
		default:
			return nil, fmt.Errorf("previous window activity: %w", err)
		}
	}

	tagsByApp, err := st.DefaultTagsForApps(ctx, appIDs)
	if err != nil {
		return nil, err
	}

	var (
		links    []domain.StateTag
		seen     = make(map[domain.StateTag]struct{})
		fallback *domain.Tag
	)
	add := func(tagID, appID string) {
		l := domain.StateTag{ActivityStateID: stateID, TagID: tagID, AppID: appID}
		if _, ok := seen[l]; ok {
			return
		}
		seen[l] = struct{}{}
		links = append(links, l)
	}
	consuming := func() (*domain.Tag, error) {
		if fallback == nil {
			t, err := wellKnown(ctx, st, domain.TagConsuming)
			if err != nil {
				return nil, err
			}
			fallback = t
		}
		return fallback, nil
	}

	for _, appID := range appIDs {
		tags := tagsByApp[appID]
		if len(tags) == 0 {
			t, err := consuming()
			if err != nil {
				return nil, err
			}
			add(t.ID, appID)
			continue
		}
		for _, t := range tags {
			add(t.ID, appID)
		}
	}
	if len(links) == 0 {
		t, err := consuming()
		if err != nil {
			return nil, err
		}
		add(t.ID, "")
	}

	if _, err := st.AddStateTags(ctx, links); err != nil {
		return nil, err
	}
	e.logger.DebugContext(ctx, "tags derived", "state_id", stateID, "apps", len(appIDs), "links", len(links))
	return links, nil
}

// windowApps returns the distinct applications of window activities in order of first appearance
func windowApps(activities []domain.Activity) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, a := range activities {
		if a.Kind != domain.ActivityWindow || a.AppID == nil {
			continue
		}
		if _, ok := seen[*a.AppID]; ok {
			continue
		}
		seen[*a.AppID] = struct{}{}
		ids = append(ids, *a.AppID)
	}
	return ids
}

func wellKnown(ctx context.Context, st Store, name string) (*domain.Tag, error) {
	t, err := st.TagByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMissingTag, name)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}
