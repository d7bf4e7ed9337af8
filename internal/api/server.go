package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pbaille/pulse/internal/domain"
	"github.com/pbaille/pulse/internal/metrics"
	"github.com/pbaille/pulse/internal/store"
)

// Enqueuer accepts events for asynchronous ingestion
type Enqueuer interface {
	Enqueue(ev domain.Event) bool
}

// Server handles HTTP requests for event intake and classification queries
type Server struct {
	store        *store.Store
	events       Enqueuer
	addr         string
	maxBodyBytes int64
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a new API server
func New(s *store.Store, events Enqueuer, addr string, maxBodyBytes int64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:        s,
		events:       events,
		addr:         addr,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With("component", "api"),
		now:          time.Now,
	}
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Event intake
	mux.HandleFunc("POST /events", s.postEvents)

	// Classification
	mux.HandleFunc("GET /states", s.listStates)
	mux.HandleFunc("GET /tags", s.listTags)

	// Health check
	mux.HandleFunc("GET /health", s.health)
	mux.Handle("GET /metrics", metrics.Handler())

	return withCORS(mux)
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// withCORS adds CORS headers for local collectors running in a browser
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// EventsResponse is the response for posting events. On a full queue the
// first Accepted events of the batch were queued and the rest were not.
type EventsResponse struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped,omitempty"`
}

// postEvents accepts one event object or an array of them. The batch is
// validated as a whole before anything is queued.
func (s *Server) postEvents(w http.ResponseWriter, r *http.Request) {
	if s.maxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	raws, err := splitEvents(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now()
	events := make([]domain.Event, 0, len(raws))
	for i, raw := range raws {
		ev, err := domain.DecodeEvent(raw, now)
		if err != nil {
			metrics.EventErrors.WithLabelValues("decode").Inc()
			writeError(w, http.StatusBadRequest, fmt.Sprintf("event %d: %v", i, err))
			return
		}
		events = append(events, ev)
	}

	// Queueing stops at the first rejection, so the accepted events are always
	// a prefix of the batch and the client resends events[accepted:].
	var resp EventsResponse
	for _, ev := range events {
		if !s.events.Enqueue(ev) {
			break
		}
		resp.Accepted++
	}
	resp.Dropped = len(events) - resp.Accepted
	if resp.Dropped > 0 {
		s.logger.WarnContext(r.Context(), "ingest queue full", "accepted", resp.Accepted, "dropped", resp.Dropped)
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// splitEvents returns the raw events of a single object or an array body
func splitEvents(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("request body is empty")
	}
	if body[0] != '[' {
		return []json.RawMessage{body}, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, errors.New("invalid event array")
	}
	if len(raws) == 0 {
		return nil, errors.New("event array is empty")
	}
	return raws, nil
}

// StateWithTags is an activity state with its tag names
type StateWithTags struct {
	domain.ActivityState
	Tags []string `json:"tags"`
}

func (s *Server) listStates(w http.ResponseWriter, r *http.Request) {
	to := s.now().UTC()
	from := to.Add(-time.Hour)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		to = t
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}

	states, err := s.store.ActivityStatesStartingBetween(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]StateWithTags, 0, len(states))
	for _, st := range states {
		tags, err := s.store.TagsForState(r.Context(), st.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		names := make([]string, len(tags))
		for i, t := range tags {
			names[i] = t.Name
		}
		out = append(out, StateWithTags{ActivityState: st, Tags: names})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"states": out,
		"from":   from,
		"to":     to,
	})
}

// TagNode represents a tag with its children for hierarchical display
type TagNode struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Children []TagNode `json:"children,omitempty"`
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Build hierarchy
	tagMap := make(map[string]domain.Tag)
	children := make(map[string][]string)
	var rootIDs []string

	for _, t := range tags {
		tagMap[t.ID] = t
		if t.ParentID == nil {
			rootIDs = append(rootIDs, t.ID)
		} else {
			children[*t.ParentID] = append(children[*t.ParentID], t.ID)
		}
	}

	var buildNode func(id string) TagNode
	buildNode = func(id string) TagNode {
		t := tagMap[id]
		node := TagNode{ID: t.ID, Name: t.Name}
		for _, childID := range children[id] {
			node.Children = append(node.Children, buildNode(childID))
		}
		return node
	}

	var tree []TagNode
	for _, rootID := range rootIDs {
		tree = append(tree, buildNode(rootID))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tags": tree,
		"flat": tags,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
