package monitor

import (
	"fmt"
	"testing"
	"time"

	"github.com/genricoloni/slobbler/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// TestHandleSignal_HappyPath verifies the standard scenario: a valid signal produces a valid event.
func TestHandleSignal_HappyPath(t *testing.T) {
	mon := NewMprisMonitor(zap.NewNop())
	mon.conn = &noopDBusClient{} // Prevent panic if code tries to call DBus
	mon.running = true
	mon.playerNames = map[string]string{":1.100": "org.mpris.MediaPlayer2.spotify"}

	expectedTitle := "Weird Fishes"
	expectedArtist := "Radiohead"

	signal := &dbus.Signal{
		Name:   "org.freedesktop.DBus.Properties.PropertiesChanged",
		Sender: ":1.100",
		Body: []interface{}{
			"org.mpris.MediaPlayer2.Player",
			map[string]dbus.Variant{
				"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
					"xesam:title":  dbus.MakeVariant(expectedTitle),
					"xesam:artist": dbus.MakeVariant([]string{expectedArtist}),
					"xesam:album":  dbus.MakeVariant("In Rainbows"),
					"mpris:length": dbus.MakeVariant(int64(318000000)),
				}),
				"PlaybackStatus": dbus.MakeVariant("Playing"),
			},
			[]string{},
		},
	}

	go mon.handleSignal(signal)

	select {
	case event := <-mon.Events():
		if event.Kind != domain.EventMetadataChanged {
			t.Errorf("Kind: expected MetadataChanged, got %v", event.Kind)
		}
		if event.PlayerID != ":1.100" {
			t.Errorf("PlayerID: expected ':1.100', got '%s'", event.PlayerID)
		}
		if event.PlayerName != "spotify" {
			t.Errorf("PlayerName: expected 'spotify', got '%s'", event.PlayerName)
		}
		if event.Metadata == nil {
			t.Fatal("Metadata: expected metadata, got nil")
		}
		if event.Metadata.Title != expectedTitle {
			t.Errorf("Title: expected '%s', got '%s'", expectedTitle, event.Metadata.Title)
		}
		if event.Metadata.Artist != expectedArtist {
			t.Errorf("Artist: expected '%s', got '%s'", expectedArtist, event.Metadata.Artist)
		}
		if event.Metadata.Length != 318*time.Second {
			t.Errorf("Length: expected 318s, got %v", event.Metadata.Length)
		}
		if event.Status != domain.StatusPlaying {
			t.Errorf("Status: expected Playing, got %v", event.Status)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout: Event was not emitted")
	}
}

// TestHandleSignal_EdgeCases consolidates all invalid/ignored scenarios into a table test.
func TestHandleSignal_EdgeCases(t *testing.T) {
	tests := []struct {
		name   string
		signal *dbus.Signal
	}{
		{
			name: "Wrong Signal Name",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.SomeOtherSignal",
				Body: []interface{}{},
			},
		},
		{
			name: "Wrong Interface",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{"org.mpris.MediaPlayer2", map[string]dbus.Variant{}, []string{}},
			},
		},
		{
			name: "Short Body",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{"org.mpris.MediaPlayer2.Player"}, // Missing props
			},
		},
		{
			name: "Capability Noise Only",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{
					"org.mpris.MediaPlayer2.Player",
					map[string]dbus.Variant{"CanGoNext": dbus.MakeVariant(true)},
					[]string{},
				},
			},
		},
		{
			name: "Invalid Metadata Type (Int instead of Map)",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{
					"org.mpris.MediaPlayer2.Player",
					map[string]dbus.Variant{"Metadata": dbus.MakeVariant(12345)},
					[]string{},
				},
			},
		},
		{
			name: "Invalid PlaybackStatus Type (Array instead of String)",
			signal: &dbus.Signal{
				Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
				Body: []interface{}{
					"org.mpris.MediaPlayer2.Player",
					map[string]dbus.Variant{"PlaybackStatus": dbus.MakeVariant([]string{"Playing"})},
					[]string{},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := NewMprisMonitor(zap.NewNop())
			mon.conn = &noopDBusClient{}
			mon.running = true

			mon.handleSignal(tt.signal)

			select {
			case <-mon.Events():
				t.Error("Should NOT emit event for invalid input")
			case <-time.After(50 * time.Millisecond):
				// Pass
			}
		})
	}
}

// TestHandleSignal_DataVariations tests valid parsing variations (Artist types, Status strings, etc.)
func TestHandleSignal_DataVariations(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]dbus.Variant
		check func(*testing.T, domain.PlayerEvent)
	}{
		{
			name: "Artist as String (Non-compliant)",
			props: map[string]dbus.Variant{
				"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
					"xesam:artist": dbus.MakeVariant("Single Artist"),
				}),
				"PlaybackStatus": dbus.MakeVariant("Playing"),
			},
			check: func(t *testing.T, e domain.PlayerEvent) {
				if e.Metadata == nil || e.Metadata.Artist != "Single Artist" {
					t.Errorf("Expected 'Single Artist', got %+v", e.Metadata)
				}
			},
		},
		{
			name: "Multiple Artists Joined",
			props: map[string]dbus.Variant{
				"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
					"xesam:artist": dbus.MakeVariant([]string{"Daft Punk", "Pharrell Williams"}),
				}),
			},
			check: func(t *testing.T, e domain.PlayerEvent) {
				if e.Metadata == nil || e.Metadata.Artist != "Daft Punk, Pharrell Williams" {
					t.Errorf("Expected joined artists, got %+v", e.Metadata)
				}
			},
		},
		{
			name: "Length as uint64",
			props: map[string]dbus.Variant{
				"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
					"xesam:title":  dbus.MakeVariant("Song"),
					"mpris:length": dbus.MakeVariant(uint64(90000000)),
				}),
			},
			check: func(t *testing.T, e domain.PlayerEvent) {
				if e.Metadata == nil || e.Metadata.Length != 90*time.Second {
					t.Errorf("Expected 90s, got %+v", e.Metadata)
				}
			},
		},
		{
			name: "Metadata Without Status Keeps Status Empty",
			props: map[string]dbus.Variant{
				"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
					"xesam:title": dbus.MakeVariant("Song"),
				}),
			},
			check: func(t *testing.T, e domain.PlayerEvent) {
				if e.Kind != domain.EventMetadataChanged {
					t.Errorf("Expected MetadataChanged, got %v", e.Kind)
				}
				// noop client fails the status lookup
				if e.Status != "" {
					t.Errorf("Expected empty status, got %v", e.Status)
				}
			},
		},
		{
			name: "Status Paused",
			props: map[string]dbus.Variant{
				"PlaybackStatus": dbus.MakeVariant("Paused"),
			},
			check: func(t *testing.T, e domain.PlayerEvent) {
				if e.Kind != domain.EventPlaybackStatusChanged {
					t.Errorf("Expected PlaybackStatusChanged, got %v", e.Kind)
				}
				if e.Status != domain.StatusPaused {
					t.Errorf("Expected Paused, got %v", e.Status)
				}
				if e.Metadata != nil {
					t.Errorf("Expected no metadata, got %+v", e.Metadata)
				}
			},
		},
		{
			name: "Status Stopped",
			props: map[string]dbus.Variant{
				"PlaybackStatus": dbus.MakeVariant("Stopped"),
			},
			check: func(t *testing.T, e domain.PlayerEvent) {
				if e.Status != domain.StatusStopped {
					t.Errorf("Expected Stopped, got %v", e.Status)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := NewMprisMonitor(zap.NewNop())
			mon.conn = &noopDBusClient{}
			mon.running = true

			signal := &dbus.Signal{
				Name:   "org.freedesktop.DBus.Properties.PropertiesChanged",
				Sender: ":1.99",
				Body:   []interface{}{"org.mpris.MediaPlayer2.Player", tt.props, []string{}},
			}

			go mon.handleSignal(signal)

			select {
			case event := <-mon.Events():
				if event.PlayerID != ":1.99" {
					t.Errorf("Expected PlayerID ':1.99', got '%s'", event.PlayerID)
				}
				tt.check(t, event)
			case <-time.After(1 * time.Second):
				t.Fatal("Timeout waiting for event")
			}
		})
	}
}

// TestHandleNameOwnerChanged verifies player lifecycle tracking
func TestHandleNameOwnerChanged(t *testing.T) {
	tests := []struct {
		name           string
		signalBody     []interface{}
		premapped      map[string]string
		expectedKinds  []domain.EventKind
		expectedIDs    []string
		expectMapping  map[string]string
		expectNoLookup []string
	}{
		{
			name: "New Player Appears",
			signalBody: []interface{}{
				"org.mpris.MediaPlayer2.spotify", // Name
				"",                               // Old Owner (Empty = New)
				":1.50",                          // New Owner
			},
			expectedKinds: []domain.EventKind{domain.EventAppeared},
			expectedIDs:   []string{":1.50"},
			expectMapping: map[string]string{":1.50": "org.mpris.MediaPlayer2.spotify"},
		},
		{
			name: "Player Disappears",
			signalBody: []interface{}{
				"org.mpris.MediaPlayer2.spotify",
				":1.50", // Old Owner
				"",      // New Owner (Empty = Deleted)
			},
			premapped:      map[string]string{":1.50": "org.mpris.MediaPlayer2.spotify"},
			expectedKinds:  []domain.EventKind{domain.EventVanished},
			expectedIDs:    []string{":1.50"},
			expectNoLookup: []string{":1.50"},
		},
		{
			name: "Ownership Transfer",
			signalBody: []interface{}{
				"org.mpris.MediaPlayer2.vlc",
				":1.60",
				":1.61",
			},
			premapped:      map[string]string{":1.60": "org.mpris.MediaPlayer2.vlc"},
			expectedKinds:  []domain.EventKind{domain.EventVanished, domain.EventAppeared},
			expectedIDs:    []string{":1.60", ":1.61"},
			expectMapping:  map[string]string{":1.61": "org.mpris.MediaPlayer2.vlc"},
			expectNoLookup: []string{":1.60"},
		},
		{
			name: "Non-MPRIS Service Ignored",
			signalBody: []interface{}{
				"com.example.service",
				"",
				":1.99",
			},
			expectNoLookup: []string{":1.99"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := NewMprisMonitor(zap.NewNop())
			mon.conn = &noopDBusClient{} // Stub to avoid fetch panic
			for k, v := range tt.premapped {
				mon.playerNames[k] = v
			}

			mon.handleNameOwnerChanged(&dbus.Signal{
				Name: "org.freedesktop.DBus.NameOwnerChanged",
				Body: tt.signalBody,
			})

			if got := len(mon.Events()); got != len(tt.expectedKinds) {
				t.Fatalf("Expected %d events, got %d", len(tt.expectedKinds), got)
			}
			for i, kind := range tt.expectedKinds {
				event := <-mon.Events()
				if event.Kind != kind {
					t.Errorf("event %d: expected kind %v, got %v", i, kind, event.Kind)
				}
				if event.PlayerID != tt.expectedIDs[i] {
					t.Errorf("event %d: expected id %s, got %s", i, tt.expectedIDs[i], event.PlayerID)
				}
			}

			mon.mu.RLock()
			defer mon.mu.RUnlock()
			for unique, wellKnown := range tt.expectMapping {
				if got := mon.playerNames[unique]; got != wellKnown {
					t.Errorf("Expected %s mapped to %s, got %q", unique, wellKnown, got)
				}
			}
			for _, unique := range tt.expectNoLookup {
				if _, exists := mon.playerNames[unique]; exists {
					t.Errorf("Expected %s to be unmapped", unique)
				}
			}
		})
	}
}

func TestGetPlayerName(t *testing.T) {
	mon := NewMprisMonitor(zap.NewNop())
	mon.playerNames = map[string]string{
		":1.100": "org.mpris.MediaPlayer2.spotify",
		":1.101": "org.mpris.MediaPlayer2.chromium.instance4242",
	}

	tests := []struct {
		input    string
		expected string
	}{
		{":1.100", "spotify"},
		{":1.101", "chromium.instance4242"},
		{":1.999", ":1.999"}, // Fallback
	}

	for _, tt := range tests {
		if got := mon.getPlayerName(tt.input); got != tt.expected {
			t.Errorf("getPlayerName(%s): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}

// noopDBusClient is a stub to prevent panics during unit tests where
// we don't want to use full mocks but code calls GetProperty/ListNames.
type noopDBusClient struct{}

func (n *noopDBusClient) Close() error                             { return nil }
func (n *noopDBusClient) AddMatchSignal(...dbus.MatchOption) error { return nil }
func (n *noopDBusClient) Signal(chan<- *dbus.Signal)               {}
func (n *noopDBusClient) ListNames() ([]string, error)             { return []string{}, nil }
func (n *noopDBusClient) GetNameOwner(string) (string, error)      { return "", fmt.Errorf("noop") }
func (n *noopDBusClient) GetProperty(string, string, string) (dbus.Variant, error) {
	return dbus.MakeVariant(""), fmt.Errorf("noop")
}
