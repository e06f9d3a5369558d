package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/slobbler/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	mprisPrefix       = "org.mpris.MediaPlayer2."
	mprisPath         = "/org/mpris/MediaPlayer2"
	playerInterface   = "org.mpris.MediaPlayer2.Player"
	metadataProperty  = playerInterface + ".Metadata"
	statusProperty    = playerInterface + ".PlaybackStatus"
	propertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"
	nameOwnerChanged  = "org.freedesktop.DBus.NameOwnerChanged"

	_eventBufferSize = 64
)

// ErrBusUnavailable is returned by Start when the session bus cannot be reached
var ErrBusUnavailable = errors.New("session bus unavailable")

// MprisMonitor turns MPRIS activity on the session bus into domain.PlayerEvent values
type MprisMonitor struct {
	logger          *zap.Logger
	events          chan domain.PlayerEvent
	mu              sync.RWMutex
	running         bool
	ctx             context.Context
	cancel          context.CancelFunc
	dial            func() (DBusClient, error)
	conn            DBusClient        // Interface for testability
	lastDropWarning time.Time         // Rate limiting for "channel full" warnings
	wg              sync.WaitGroup    // Tracks active producer goroutines
	closeOnce       sync.Once         // Guards close(events)
	playerNames     map[string]string // Maps unique bus names (:1.45) to well-known names (org.mpris.MediaPlayer2.spotify)
}

// NewMprisMonitor creates a new MPRIS monitor instance
func NewMprisMonitor(logger *zap.Logger) *MprisMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &MprisMonitor{
		logger: logger,
		events: make(chan domain.PlayerEvent, _eventBufferSize),
		ctx:    ctx,
		cancel: cancel,
		dial: func() (DBusClient, error) {
			return NewStdDBusClient()
		},
		playerNames: make(map[string]string),
	}
}

// Start connects to the session bus, subscribes to player signals and
// emits an Appeared event for every player already on the bus.
// It returns as soon as monitoring is running.
func (m *MprisMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	conn, err := m.dial()
	if err != nil {
		m.logger.Error("Failed to connect to session bus", zap.Error(err))
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrBusUnavailable, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	// Subscribe before scanning so nothing that changes during the scan is missed
	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		m.logger.Error("Failed to add match signal", zap.Error(err))
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		if cerr := conn.Close(); cerr != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(cerr))
		}
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	// Without NameOwnerChanged we cannot see players vanish, which would leave
	// stale Playing entries behind, so this one is fatal too
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		m.logger.Error("Failed to add NameOwnerChanged match signal", zap.Error(err))
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		if cerr := conn.Close(); cerr != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(cerr))
		}
		return fmt.Errorf("failed to add NameOwnerChanged match signal: %w", err)
	}

	signals := make(chan *dbus.Signal, 32)
	conn.Signal(signals)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.detectExistingPlayers(); err != nil {
			m.logger.Warn("Failed to detect existing players", zap.Error(err))
		}
		m.monitorSignals(signals)
	}()

	m.logger.Info("MPRIS monitor started")
	return nil
}

// Stop gracefully stops the monitor
func (m *MprisMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.cancel()

	// Wait for all producer goroutines to terminate before closing channel
	// This prevents "send on closed channel" panic
	m.logger.Debug("Waiting for monitoring goroutines to finish")
	m.wg.Wait()

	m.closeOnce.Do(func() { close(m.events) })

	m.mu.Lock()
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
		m.conn = nil
	}
	m.mu.Unlock()

	m.logger.Info("MPRIS monitor shutdown complete")
	return nil
}

// Events returns a read-only channel that emits PlayerEvent
func (m *MprisMonitor) Events() <-chan domain.PlayerEvent {
	return m.events
}

// detectExistingPlayers queries D-Bus for currently running MPRIS players
func (m *MprisMonitor) detectExistingPlayers() error {
	names, err := m.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	playerCount := 0
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}

		uniqueName, err := m.conn.GetNameOwner(name)
		if err != nil {
			m.logger.Warn("Failed to resolve player owner",
				zap.String("player", name),
				zap.Error(err))
			continue
		}

		playerCount++
		m.mu.Lock()
		m.playerNames[uniqueName] = name
		m.mu.Unlock()

		m.logger.Info("Detected MPRIS player",
			zap.String("player", name),
			zap.String("unique", uniqueName))

		m.emitAppeared(uniqueName, name)
	}

	m.logger.Info("Player detection complete", zap.Int("count", playerCount))
	return nil
}

// emitAppeared fetches the current state of a player and emits an Appeared event.
// The event is emitted even if the state cannot be read, so the player gets a registry slot.
func (m *MprisMonitor) emitAppeared(uniqueName, wellKnown string) {
	event, err := m.fetchPlayerState(uniqueName, wellKnown)
	if err != nil {
		m.logger.Warn("Failed to fetch initial player state",
			zap.String("player", wellKnown),
			zap.Error(err))
	}
	m.emit(event)
}

// fetchPlayerState reads Metadata and PlaybackStatus from a player.
// The returned event is always usable; missing halves are left empty.
func (m *MprisMonitor) fetchPlayerState(uniqueName, wellKnown string) (domain.PlayerEvent, error) {
	event := domain.PlayerEvent{
		PlayerID:   uniqueName,
		PlayerName: displayName(wellKnown),
		Kind:       domain.EventAppeared,
	}

	variant, err := m.conn.GetProperty(wellKnown, mprisPath, metadataProperty)
	if err != nil {
		return event, fmt.Errorf("failed to get metadata: %w", err)
	}

	// Some players return nil or unexpected types if not playing anything
	if metadata, ok := variant.Value().(map[string]dbus.Variant); ok {
		event.Metadata = m.parseMetadata(metadata)
	} else {
		m.logger.Debug("Metadata variant is not a map, ignoring", zap.String("player", wellKnown))
	}

	statusVariant, err := m.conn.GetProperty(wellKnown, mprisPath, statusProperty)
	if err != nil {
		return event, fmt.Errorf("failed to get playback status: %w", err)
	}

	status, ok := statusVariant.Value().(string)
	if !ok {
		return event, fmt.Errorf("invalid playback status format")
	}
	event.Status = domain.ParsePlaybackStatus(status)

	return event, nil
}

// monitorSignals listens for D-Bus signals and processes them
func (m *MprisMonitor) monitorSignals(signals <-chan *dbus.Signal) {
	m.logger.Info("Signal monitoring goroutine started")

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Signal monitoring goroutine stopped")
			return
		case sig, ok := <-signals:
			if !ok {
				m.logger.Warn("D-Bus signal channel closed")
				return
			}
			if sig == nil {
				continue
			}
			if sig.Name == nameOwnerChanged {
				m.handleNameOwnerChanged(sig)
			} else {
				m.handleSignal(sig)
			}
		}
	}
}

// handleNameOwnerChanged processes NameOwnerChanged signals to track player lifecycle
func (m *MprisMonitor) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, mprisPrefix) {
		return // Not an MPRIS player
	}

	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	// An ownership transfer is a vanish followed by an appearance
	if oldOwner != "" {
		m.mu.Lock()
		delete(m.playerNames, oldOwner)
		m.mu.Unlock()

		m.logger.Info("MPRIS player removed",
			zap.String("player", name),
			zap.String("unique", oldOwner))

		m.emit(domain.PlayerEvent{
			PlayerID:   oldOwner,
			PlayerName: displayName(name),
			Kind:       domain.EventVanished,
		})
	}

	if newOwner != "" {
		m.mu.Lock()
		m.playerNames[newOwner] = name
		m.mu.Unlock()

		m.logger.Info("New MPRIS player detected",
			zap.String("player", name),
			zap.String("unique", newOwner))

		m.emitAppeared(newOwner, name)
	}
}

// handleSignal processes a PropertiesChanged signal
func (m *MprisMonitor) handleSignal(sig *dbus.Signal) {
	// PropertiesChanged signal has 3 arguments:
	// 1. Interface name (string)
	// 2. Changed properties (map[string]Variant)
	// 3. Invalidated properties ([]string)

	if sig.Name != propertiesChanged {
		return
	}

	if len(sig.Body) < 2 {
		return
	}

	interfaceName, ok := sig.Body[0].(string)
	if !ok || interfaceName != playerInterface {
		return
	}

	changedProps, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	metadataVariant, hasMetadata := changedProps["Metadata"]
	statusVariant, hasStatus := changedProps["PlaybackStatus"]

	// Some players send noise about their capabilities, ignore that
	if !hasMetadata && !hasStatus {
		return
	}

	playerName := m.getPlayerName(sig.Sender)

	m.logger.Debug("Received PropertiesChanged signal",
		zap.String("sender", sig.Sender),
		zap.String("player", playerName),
		zap.Int("properties", len(changedProps)))

	event := domain.PlayerEvent{
		PlayerID:   sig.Sender,
		PlayerName: playerName,
		Kind:       domain.EventPlaybackStatusChanged,
	}

	if hasMetadata {
		metadata, ok := metadataVariant.Value().(map[string]dbus.Variant)
		if !ok {
			m.logger.Warn("Invalid metadata format in signal, ignoring")
			return
		}
		event.Kind = domain.EventMetadataChanged
		event.Metadata = m.parseMetadata(metadata)
	}

	if hasStatus {
		status, ok := statusVariant.Value().(string)
		if !ok {
			m.logger.Warn("Invalid playback status format in signal, ignoring")
			return
		}
		event.Status = domain.ParsePlaybackStatus(status)
	} else if variant, err := m.conn.GetProperty(sig.Sender, mprisPath, statusProperty); err == nil {
		if s, ok := variant.Value().(string); ok {
			event.Status = domain.ParsePlaybackStatus(s)
		}
	}

	// Some players, notably Spotify, don't send Metadata on the Stopped -> Playing transition
	if !hasMetadata {
		if variant, err := m.conn.GetProperty(sig.Sender, mprisPath, metadataProperty); err == nil {
			if metadata, ok := variant.Value().(map[string]dbus.Variant); ok {
				event.Metadata = m.parseMetadata(metadata)
			}
		}
	}

	m.logger.Debug("Player change detected",
		zap.String("player", playerName),
		zap.Stringer("kind", event.Kind),
		zap.String("status", string(event.Status)))

	m.emit(event)
}

// parseMetadata converts MPRIS metadata to domain model
func (m *MprisMonitor) parseMetadata(metadata map[string]dbus.Variant) *domain.TrackMetadata {
	var meta domain.TrackMetadata

	if titleVar, ok := metadata["xesam:title"]; ok {
		if title, ok := titleVar.Value().(string); ok {
			meta.Title = title
		}
	}

	// xesam:artist is a list in MPRIS, but some players send a plain string
	if artistVar, ok := metadata["xesam:artist"]; ok {
		switch artists := artistVar.Value().(type) {
		case []string:
			meta.Artist = strings.Join(artists, ", ")
		case string:
			meta.Artist = artists
		default:
			m.logger.Debug("Unexpected artist type in metadata",
				zap.String("type", fmt.Sprintf("%T", artistVar.Value())))
		}
	}

	if albumVar, ok := metadata["xesam:album"]; ok {
		if album, ok := albumVar.Value().(string); ok {
			meta.Album = album
		}
	}

	// mpris:length is in microseconds; players disagree on the integer type
	if lengthVar, ok := metadata["mpris:length"]; ok {
		switch l := lengthVar.Value().(type) {
		case int64:
			meta.Length = time.Duration(l) * time.Microsecond
		case uint64:
			meta.Length = time.Duration(l) * time.Microsecond
		case int32:
			meta.Length = time.Duration(l) * time.Microsecond
		case uint32:
			meta.Length = time.Duration(l) * time.Microsecond
		case float64:
			meta.Length = time.Duration(l * float64(time.Microsecond))
		}
		if meta.Length < 0 {
			meta.Length = 0
		}
	}

	return &meta
}

// emit delivers an event to the consumer. Events are never dropped: a lost
// Vanished event would leave a stale Playing player behind.
func (m *MprisMonitor) emit(event domain.PlayerEvent) {
	select {
	case m.events <- event:
		return
	default:
	}

	m.logChannelFullWarning()

	select {
	case m.events <- event:
	case <-m.ctx.Done():
	}
}

// getPlayerName returns the display name for a unique bus name.
// Falls back to the unique name if no mapping exists.
func (m *MprisMonitor) getPlayerName(uniqueName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if wellKnown, ok := m.playerNames[uniqueName]; ok {
		return displayName(wellKnown)
	}
	return uniqueName
}

// displayName strips the MPRIS prefix: org.mpris.MediaPlayer2.spotify -> spotify
func displayName(wellKnown string) string {
	return strings.TrimPrefix(wellKnown, mprisPrefix)
}

// logChannelFullWarning logs a warning about channel being full, but rate-limited
// to avoid log spam during bursts of player activity
func (m *MprisMonitor) logChannelFullWarning() {
	m.mu.Lock()
	defer m.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()

	if now.Sub(m.lastDropWarning) >= warningInterval {
		m.logger.Warn("Events channel full, waiting for consumer",
			zap.Int("buffer", cap(m.events)))
		m.lastDropWarning = now
	}
}
