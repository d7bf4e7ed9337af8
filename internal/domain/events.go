package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is a raw event emitted by the event source. The concrete types are
// KeyboardEvent, MouseEvent, WindowEvent and AppBlockedEvent.
type Event interface {
	OccurredAt() time.Time
	event()
}

// KeyboardEvent reports keyboard input at At
type KeyboardEvent struct {
	At       time.Time
	Platform Platform
}

// MouseEvent reports mouse input at At
type MouseEvent struct {
	At       time.Time
	Platform Platform
}

// WindowEvent reports a change of the focused window
type WindowEvent struct {
	At          time.Time
	DisplayName string
	WindowTitle string
	URL         string
	BundleID    string
	Platform    Platform
}

// AppBlockedEvent reports that a blocked application was brought to front
type AppBlockedEvent struct {
	At         time.Time
	ExternalID string
}

func (e KeyboardEvent) OccurredAt() time.Time   { return e.At }
func (e MouseEvent) OccurredAt() time.Time      { return e.At }
func (e WindowEvent) OccurredAt() time.Time     { return e.At }
func (e AppBlockedEvent) OccurredAt() time.Time { return e.At }

func (KeyboardEvent) event()   {}
func (MouseEvent) event()      {}
func (WindowEvent) event()     {}
func (AppBlockedEvent) event() {}

// wireEvent is the JSON representation accepted on stdin and over HTTP
type wireEvent struct {
	Kind        string     `json:"kind"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Platform    string     `json:"platform,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	WindowTitle string     `json:"window_title,omitempty"`
	URL         string     `json:"url,omitempty"`
	BundleID    string     `json:"bundle_id,omitempty"`
	ExternalID  string     `json:"external_id,omitempty"`
}

// DecodeEvent parses one JSON event. Events without a timestamp are stamped with now.
func DecodeEvent(data []byte, now time.Time) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	at := now
	if w.Timestamp != nil {
		at = *w.Timestamp
	}
	at = at.UTC()
	platform := ParsePlatform(w.Platform)

	switch strings.ToLower(w.Kind) {
	case "keyboard":
		return KeyboardEvent{At: at, Platform: platform}, nil
	case "mouse":
		return MouseEvent{At: at, Platform: platform}, nil
	case "window":
		if w.DisplayName == "" && w.URL == "" && w.BundleID == "" {
			return nil, fmt.Errorf("window event: display_name, url or bundle_id required")
		}
		return WindowEvent{
			At:          at,
			DisplayName: w.DisplayName,
			WindowTitle: w.WindowTitle,
			URL:         w.URL,
			BundleID:    w.BundleID,
			Platform:    platform,
		}, nil
	case "app_blocked":
		if w.ExternalID == "" {
			return nil, fmt.Errorf("app_blocked event: external_id required")
		}
		return AppBlockedEvent{At: at, ExternalID: w.ExternalID}, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", w.Kind)
	}
}

func upper(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
