package domain

import (
	"fmt"
	"strings"
	"time"
)

// PlaybackStatus represents the current state of the media player
type PlaybackStatus string

const (
	// StatusPlaying indicates the media is currently playing
	StatusPlaying PlaybackStatus = "Playing"
	// StatusPaused indicates the media is paused
	StatusPaused PlaybackStatus = "Paused"
	// StatusStopped indicates the media is stopped
	StatusStopped PlaybackStatus = "Stopped"
)

// ParsePlaybackStatus maps an MPRIS PlaybackStatus string to the domain value.
// Anything unrecognised is treated as Stopped.
func ParsePlaybackStatus(s string) PlaybackStatus {
	switch PlaybackStatus(s) {
	case StatusPlaying, StatusPaused, StatusStopped:
		return PlaybackStatus(s)
	default:
		return StatusStopped
	}
}

// Field names a piece of track metadata that rules can match against
type Field string

const (
	FieldArtist Field = "artist"
	FieldTitle  Field = "title"
	FieldAlbum  Field = "album"
)

// ParseField validates a field name coming from configuration
func ParseField(s string) (Field, error) {
	switch f := Field(strings.ToLower(strings.TrimSpace(s))); f {
	case FieldArtist, FieldTitle, FieldAlbum:
		return f, nil
	default:
		return "", fmt.Errorf("unknown field %q (expected artist, title or album)", s)
	}
}

// TrackMetadata is the subset of MPRIS metadata the daemon cares about.
// An empty string means the player did not report that tag.
type TrackMetadata struct {
	Artist string
	Title  string
	Album  string
	// Length is zero when the player does not report mpris:length
	Length time.Duration
}

// TrackIdentity is the (artist, title, album) tuple used to detect a new track
type TrackIdentity struct {
	Artist string
	Title  string
	Album  string
}

// TrackInfo is an immutable snapshot of one player's current track and playback state
type TrackInfo struct {
	// PlayerID is the unique bus name of the player (e.g. ":1.45")
	PlayerID string
	// PlayerName is the human-facing name (e.g. "spotify", "chromium.instance4242")
	PlayerName string
	TrackMetadata
	Status PlaybackStatus
}

// Field returns the value of f and whether it is present on the track
func (t TrackInfo) Field(f Field) (string, bool) {
	var v string
	switch f {
	case FieldArtist:
		v = t.Artist
	case FieldTitle:
		v = t.Title
	case FieldAlbum:
		v = t.Album
	}
	if strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Identity returns the track identity tuple
func (t TrackInfo) Identity() TrackIdentity {
	return TrackIdentity{Artist: t.Artist, Title: t.Title, Album: t.Album}
}

// IsPlaying reports whether the player is currently playing
func (t TrackInfo) IsPlaying() bool {
	return t.Status == StatusPlaying
}

// EventKind classifies a player event
type EventKind int

const (
	EventAppeared EventKind = iota
	EventVanished
	EventMetadataChanged
	EventPlaybackStatusChanged
)

func (k EventKind) String() string {
	switch k {
	case EventAppeared:
		return "Appeared"
	case EventVanished:
		return "Vanished"
	case EventMetadataChanged:
		return "MetadataChanged"
	case EventPlaybackStatusChanged:
		return "PlaybackStatusChanged"
	default:
		return "Unknown"
	}
}

// PlayerEvent is the normalized event emitted by the player bus
type PlayerEvent struct {
	PlayerID   string
	PlayerName string
	Kind       EventKind
	// Metadata is nil when the event does not carry track metadata
	Metadata *TrackMetadata
	// Status is empty when the event does not carry a playback status
	Status PlaybackStatus
}

// Action is what the daemon decided to do with the external status
type Action int

const (
	ActionNoOp Action = iota
	ActionPublish
	ActionClear
)

func (a Action) String() string {
	switch a {
	case ActionPublish:
		return "Publish"
	case ActionClear:
		return "Clear"
	default:
		return "NoOp"
	}
}

// StatusDecision is recomputed from scratch on every evaluation cycle
type StatusDecision struct {
	Action Action
	Text   string
	Emoji  string
	// Expiration is zero when the status should not expire
	Expiration time.Time
	// Reason explains NoOp decisions in logs
	Reason string
}

// NoOp builds a NoOp decision with a reason
func NoOp(reason string) StatusDecision {
	return StatusDecision{Action: ActionNoOp, Reason: reason}
}

// Clear builds a Clear decision
func Clear() StatusDecision {
	return StatusDecision{Action: ActionClear}
}

// Publish builds a Publish decision
func Publish(text, emoji string, expiration time.Time) StatusDecision {
	return StatusDecision{Action: ActionPublish, Text: text, Emoji: emoji, Expiration: expiration}
}

// Same reports whether two decisions would produce the same visible status.
// Expiration is ignored since it is recomputed from the clock on every cycle,
// and text is compared without non-ASCII characters because Slack normalises some of them.
func (d StatusDecision) Same(o StatusDecision) bool {
	if d.Action != o.Action {
		return false
	}
	if d.Action != ActionPublish {
		return true
	}
	return d.Emoji == o.Emoji && stripNonASCII(d.Text) == stripNonASCII(o.Text)
}

// Update converts a Publish/Clear decision into the payload written to the status service
func (d StatusDecision) Update() StatusUpdate {
	if d.Action != ActionPublish {
		return StatusUpdate{}
	}
	return StatusUpdate{Text: d.Text, Emoji: d.Emoji, Expiration: d.Expiration}
}

// StatusUpdate is the payload written to the presence-status service.
// The zero value clears the status.
type StatusUpdate struct {
	Text       string
	Emoji      string
	Expiration time.Time
}

// RemoteStatus is the status currently visible on the presence-status service
type RemoteStatus struct {
	Text       string
	Emoji      string
	Expiration time.Time
}

// IsEmpty reports whether no status emoji is set
func (r RemoteStatus) IsEmpty() bool {
	return r.Emoji == ""
}

func stripNonASCII(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
