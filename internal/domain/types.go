package domain

import "time"

// Platform identifies the operating system an event was captured on
type Platform string

const (
	PlatformMac     Platform = "MAC"
	PlatformWindows Platform = "WINDOWS"
	PlatformLinux   Platform = "LINUX"
	PlatformIOS     Platform = "IOS"
	PlatformAndroid Platform = "ANDROID"
	PlatformWeb     Platform = "WEB"
	PlatformUnknown Platform = "UNKNOWN"
)

// ParsePlatform maps a free-form platform name to a Platform, defaulting to PlatformUnknown
func ParsePlatform(s string) Platform {
	switch p := Platform(upper(s)); p {
	case PlatformMac, PlatformWindows, PlatformLinux, PlatformIOS, PlatformAndroid, PlatformWeb:
		return p
	default:
		return PlatformUnknown
	}
}

// ActivityKind is the kind of raw event an Activity was recorded from
type ActivityKind string

const (
	ActivityKeyboard ActivityKind = "KEYBOARD"
	ActivityMouse    ActivityKind = "MOUSE"
	ActivityWindow   ActivityKind = "WINDOW"
)

// Activity is one immutable raw input or window event
type Activity struct {
	ID          int64        `json:"id"`
	Kind        ActivityKind `json:"kind"`
	AppID       *string      `json:"app_id,omitempty"`
	WindowTitle *string      `json:"window_title,omitempty"`
	URL         *string      `json:"url,omitempty"`
	Platform    Platform     `json:"platform"`
	Timestamp   time.Time    `json:"timestamp"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Application is the durable identity of an app or website
type Application struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name"`
	Platform   Platform  `json:"platform"`
	IsBrowser  bool      `json:"is_browser"`
	IsDefault  bool      `json:"is_default"`
	IsBlocked  bool      `json:"is_blocked"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Tag represents a productivity category with optional hierarchy
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TagType   *string   `json:"tag_type,omitempty"`
	ParentID  *string   `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TagTypeDefault marks the tags considered by period classification
const TagTypeDefault = "default"

// Well-known tag names seeded into every database
const (
	TagCreating  = "creating"
	TagConsuming = "consuming"
	TagNeutral   = "neutral"
	TagIdle      = "idle"
)

// AppTag links an application to a tag
type AppTag struct {
	AppID  string  `json:"app_id"`
	TagID  string  `json:"tag_id"`
	Weight float64 `json:"weight"`
}

// StateKind is the classification of an ActivityState
type StateKind string

const (
	StateActive   StateKind = "ACTIVE"
	StateInactive StateKind = "INACTIVE"
)

// ActivityState is one classified half-open window [StartTime, EndTime).
// LastActivityID is the highest activity id classified up to this state.
type ActivityState struct {
	ID             int64     `json:"id"`
	State          StateKind `json:"state"`
	AppSwitches    int64     `json:"app_switches"`
	LastActivityID int64     `json:"last_activity_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	CreatedAt      time.Time `json:"created_at"`
}

// StateTag labels an ActivityState with a tag. AppID is the contributing
// application, empty when the tag has no application provenance.
type StateTag struct {
	ActivityStateID int64  `json:"activity_state_id"`
	TagID           string `json:"tag_id"`
	AppID           string `json:"app_id,omitempty"`
}

// BlockedActivity records that a blocked application was brought to front
type BlockedActivity struct {
	ID            string    `json:"id"`
	ExternalAppID string    `json:"external_app_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Window is the half-open interval [Start, End) of a classification period
type Window struct {
	Start time.Time
	End   time.Time
}
