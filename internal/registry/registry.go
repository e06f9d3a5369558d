package registry

import (
	"strings"
	"time"

	"github.com/genricoloni/slobbler/internal/domain"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type entry struct {
	info         domain.TrackInfo
	playingSince time.Time
}

// Registry tracks every MPRIS player currently on the bus and picks the one
// whose track should drive the status.
// It is not safe for concurrent use; the engine owns it from a single goroutine.
type Registry struct {
	logger  *zap.Logger
	clock   clockwork.Clock
	ignore  []string
	players map[string]*entry

	// player selected by the previous SelectActive call
	selected string
}

// New creates an empty registry. Players whose name contains any of ignore
// (case-insensitive) are tracked but never selected.
func New(logger *zap.Logger, clock clockwork.Clock, ignore []string) *Registry {
	lowered := make([]string, 0, len(ignore))
	for _, s := range ignore {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			lowered = append(lowered, s)
		}
	}

	return &Registry{
		logger:  logger,
		clock:   clock,
		ignore:  lowered,
		players: make(map[string]*entry),
	}
}

// Apply folds one monitor event into the registry
func (r *Registry) Apply(ev domain.PlayerEvent) {
	switch ev.Kind {
	case domain.EventVanished:
		if _, ok := r.players[ev.PlayerID]; !ok {
			return
		}
		delete(r.players, ev.PlayerID)
		if r.selected == ev.PlayerID {
			r.selected = ""
		}
		r.logger.Debug("Player vanished", zap.String("player_id", ev.PlayerID))
		return

	case domain.EventAppeared, domain.EventMetadataChanged, domain.EventPlaybackStatusChanged:
	default:
		r.logger.Warn("Unknown player event", zap.Stringer("kind", ev.Kind))
		return
	}

	e, ok := r.players[ev.PlayerID]
	if !ok {
		e = &entry{info: domain.TrackInfo{
			PlayerID: ev.PlayerID,
			Status:   domain.StatusStopped,
		}}
		r.players[ev.PlayerID] = e
		r.logger.Debug("Player appeared",
			zap.String("player_id", ev.PlayerID),
			zap.String("player_name", ev.PlayerName))
	}

	if ev.PlayerName != "" {
		e.info.PlayerName = ev.PlayerName
	}
	if ev.Metadata != nil {
		e.info.TrackMetadata = *ev.Metadata
	}
	if ev.Status != "" {
		r.setStatus(e, ev.Status)
	}
}

func (r *Registry) setStatus(e *entry, status domain.PlaybackStatus) {
	if status == domain.StatusPlaying && e.info.Status != domain.StatusPlaying {
		e.playingSince = r.clock.Now()
	}
	e.info.Status = status
}

// SelectActive returns the player that should drive the status, if any.
// The previous pick is kept while it is still playing; otherwise the player
// that most recently started playing wins, with ties broken by player id.
func (r *Registry) SelectActive() (domain.TrackInfo, bool) {
	if e, ok := r.players[r.selected]; ok && r.eligible(e) {
		return e.info, true
	}

	var best *entry
	for _, e := range r.players {
		if !r.eligible(e) {
			continue
		}
		if best == nil || newer(e, best) {
			best = e
		}
	}

	if best == nil {
		r.selected = ""
		return domain.TrackInfo{}, false
	}

	if best.info.PlayerID != r.selected {
		r.logger.Debug("Active player changed",
			zap.String("player_id", best.info.PlayerID),
			zap.String("player_name", best.info.PlayerName))
	}
	r.selected = best.info.PlayerID
	return best.info, true
}

// Len returns the number of tracked players
func (r *Registry) Len() int {
	return len(r.players)
}

func (r *Registry) eligible(e *entry) bool {
	return e.info.IsPlaying() && !r.ignored(e.info.PlayerName)
}

func (r *Registry) ignored(name string) bool {
	name = strings.ToLower(name)
	for _, s := range r.ignore {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

func newer(a, b *entry) bool {
	if !a.playingSince.Equal(b.playingSince) {
		return a.playingSince.After(b.playingSince)
	}
	return a.info.PlayerID < b.info.PlayerID
}
