// Package ingest drains raw events in arrival order and records them as activities.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pbaille/pulse/internal/domain"
	"github.com/pbaille/pulse/internal/metrics"
	"github.com/pbaille/pulse/internal/switches"
)

// Store is the persistence the ingestor writes to
type Store interface {
	SaveActivity(ctx context.Context, a *domain.Activity) (int64, error)
	SaveBlockedActivity(ctx context.Context, b *domain.BlockedActivity) error
}

// AppResolver maps window events to applications
type AppResolver interface {
	Resolve(ctx context.Context, e domain.WindowEvent) (*domain.Application, error)
}

// Ingestor owns the event queue and its single consumer
type Ingestor struct {
	queue    chan domain.Event
	store    Store
	resolver AppResolver
	switches *switches.Debouncer
	logger   *slog.Logger
}

// NewIngestor creates an ingestor with a queue of queueMaxSize events
func NewIngestor(s Store, r AppResolver, d *switches.Debouncer, queueMaxSize int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		queue:    make(chan domain.Event, queueMaxSize),
		store:    s,
		resolver: r,
		switches: d,
		logger:   logger.With("component", "ingest"),
	}
}

// Run consumes events until ctx is done, then drains what is already queued.
// A failing event is logged and skipped.
func (ig *Ingestor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			ig.drain()
			return nil
		case ev := <-ig.queue:
			// select picks at random when both are ready
			if ctx.Err() != nil {
				ig.drain(ev)
				return nil
			}
			metrics.QueueDepth.Set(float64(len(ig.queue)))
			// a dequeued event is written even if ctx is cancelled meanwhile
			ig.Handle(context.WithoutCancel(ctx), ev)
		}
	}
}

// drain handles pending, then everything still queued
func (ig *Ingestor) drain(pending ...domain.Event) {
	// the parent context is cancelled; give queued events a bounded chance to land
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, ev := range pending {
		ig.Handle(ctx, ev)
	}
	for {
		select {
		case ev := <-ig.queue:
			ig.Handle(ctx, ev)
		default:
			metrics.QueueDepth.Set(0)
			return
		}
	}
}

// Enqueue adds an event without blocking. It returns false when the queue is full.
func (ig *Ingestor) Enqueue(ev domain.Event) bool {
	select {
	case ig.queue <- ev:
		metrics.QueueDepth.Set(float64(len(ig.queue)))
		return true
	default:
		metrics.EventsDropped.Inc()
		return false
	}
}

// Submit adds an event, waiting for room in the queue until ctx is done
func (ig *Ingestor) Submit(ctx context.Context, ev domain.Event) error {
	select {
	case ig.queue <- ev:
		metrics.QueueDepth.Set(float64(len(ig.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Feed submits newline-delimited JSON events read from r until EOF.
// Malformed lines are logged and skipped.
func (ig *Ingestor) Feed(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		ev, err := domain.DecodeEvent(data, time.Now())
		if err != nil {
			metrics.EventErrors.WithLabelValues("decode").Inc()
			ig.logger.WarnContext(ctx, "skipping malformed event", "line", line, "err", err)
			continue
		}
		if err := ig.Submit(ctx, ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	return nil
}

// Handle processes one event synchronously
func (ig *Ingestor) Handle(ctx context.Context, ev domain.Event) {
	switch e := ev.(type) {
	case domain.KeyboardEvent:
		ig.record(ctx, "keyboard", &domain.Activity{Kind: domain.ActivityKeyboard, Platform: e.Platform, Timestamp: e.At})
	case domain.MouseEvent:
		ig.record(ctx, "mouse", &domain.Activity{Kind: domain.ActivityMouse, Platform: e.Platform, Timestamp: e.At})
	case domain.WindowEvent:
		ig.handleWindow(ctx, e)
	case domain.AppBlockedEvent:
		ig.handleBlocked(ctx, e)
	default:
		ig.logger.WarnContext(ctx, "unknown event type", "type", ev)
	}
}

func (ig *Ingestor) handleWindow(ctx context.Context, e domain.WindowEvent) {
	a := &domain.Activity{Kind: domain.ActivityWindow, Platform: e.Platform, Timestamp: e.At}
	if e.WindowTitle != "" {
		a.WindowTitle = &e.WindowTitle
	}
	if e.URL != "" {
		a.URL = &e.URL
	}

	app, err := ig.resolver.Resolve(ctx, e)
	if err != nil {
		// the activity is still recorded, without an application reference
		metrics.EventErrors.WithLabelValues("resolve").Inc()
		ig.logger.ErrorContext(ctx, "resolve application failed", "display_name", e.DisplayName, "err", err)
	} else {
		a.AppID = &app.ID
		ig.switches.Observe(app.ID)
	}
	ig.record(ctx, "window", a)
}

func (ig *Ingestor) handleBlocked(ctx context.Context, e domain.AppBlockedEvent) {
	metrics.EventsIngested.WithLabelValues("app_blocked").Inc()
	err := ig.store.SaveBlockedActivity(ctx, &domain.BlockedActivity{ExternalAppID: e.ExternalID, CreatedAt: e.At})
	if err != nil {
		metrics.EventErrors.WithLabelValues("save").Inc()
		ig.logger.ErrorContext(ctx, "save blocked activity failed", "external_id", e.ExternalID, "err", err)
	}
}

func (ig *Ingestor) record(ctx context.Context, kind string, a *domain.Activity) {
	metrics.EventsIngested.WithLabelValues(kind).Inc()
	if _, err := ig.store.SaveActivity(ctx, a); err != nil {
		metrics.EventErrors.WithLabelValues("save").Inc()
		ig.logger.ErrorContext(ctx, "save activity failed", "kind", kind, "err", err)
	}
}
