package rules

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/genricoloni/slobbler/internal/domain"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	// Slack rejects status text longer than 100 characters
	_maxStatusLength = 97
	_ellipsis        = "..."
)

// Rule matches a track when Field contains Partial, ignoring case.
// Emoji and MessageFormat are only used by exceptions.
type Rule struct {
	Field         domain.Field
	Partial       string
	Emoji         string
	MessageFormat string
}

// Matches reports whether the rule's field is present on the track and contains Partial
func (r Rule) Matches(track domain.TrackInfo) bool {
	value, ok := track.Field(r.Field)
	if !ok {
		return false
	}
	return containsFold(value, r.Partial)
}

// Settings holds everything the evaluator needs from configuration
type Settings struct {
	MessageFormat  string
	PlayerEmojis   map[string]string
	DefaultEmojis  []string
	SetExpiration  bool
	RequiredFields []domain.Field
	Filters        []Rule
	Exceptions     []Rule
}

// Evaluator turns the active track into a status decision.
// It is not safe for concurrent use; the engine calls it from its single event loop.
type Evaluator struct {
	logger       *zap.Logger
	settings     Settings
	rng          *rand.Rand
	clock        clockwork.Clock
	playerEmojis map[string]string

	// fallback emoji memory, so the pick only changes when a new track starts
	lastTrack    *domain.TrackIdentity
	lastFallback string
}

// NewEvaluator creates an evaluator. rng drives the fallback emoji pick and
// clock drives expiration timestamps; both are injected so tests are deterministic.
func NewEvaluator(logger *zap.Logger, settings Settings, rng *rand.Rand, clock clockwork.Clock) *Evaluator {
	// player_emojis keys arrive lowercased from the config loader
	playerEmojis := make(map[string]string, len(settings.PlayerEmojis))
	for name, emoji := range settings.PlayerEmojis {
		playerEmojis[strings.ToLower(name)] = emoji
	}

	return &Evaluator{
		logger:       logger,
		settings:     settings,
		rng:          rng,
		clock:        clock,
		playerEmojis: playerEmojis,
	}
}

// Evaluate decides what the status should be for the active track.
// A nil track means nothing is playing.
func (e *Evaluator) Evaluate(track *domain.TrackInfo) domain.StatusDecision {
	if track == nil {
		return domain.Clear()
	}

	// Exceptions win over required fields and filters
	for _, rule := range e.settings.Exceptions {
		if !rule.Matches(*track) {
			continue
		}

		format := rule.MessageFormat
		if format == "" {
			format = e.settings.MessageFormat
		}
		emoji := rule.Emoji
		if emoji == "" {
			emoji = e.pickEmoji(*track)
		}

		e.logger.Debug("Exception matched",
			zap.String("field", string(rule.Field)),
			zap.String("partial", rule.Partial))

		return domain.Publish(Format(format, *track), emoji, e.expiration(*track))
	}

	for _, field := range e.settings.RequiredFields {
		if _, ok := track.Field(field); !ok {
			return domain.NoOp("missing required field " + string(field))
		}
	}

	for _, rule := range e.settings.Filters {
		if rule.Matches(*track) {
			return domain.NoOp("filtered by " + string(rule.Field) + " containing " + rule.Partial)
		}
	}

	return domain.Publish(
		Format(e.settings.MessageFormat, *track),
		e.pickEmoji(*track),
		e.expiration(*track),
	)
}

// pickEmoji prefers the player's own emoji, then a fallback that is rerolled
// only when the track identity changes
func (e *Evaluator) pickEmoji(track domain.TrackInfo) string {
	if emoji, ok := e.playerEmojis[strings.ToLower(track.PlayerName)]; ok {
		return emoji
	}

	identity := track.Identity()
	if e.lastTrack != nil && *e.lastTrack == identity && e.lastFallback != "" {
		return e.lastFallback
	}

	e.lastTrack = &identity
	e.lastFallback = PickFallback(e.settings.DefaultEmojis, e.rng)
	return e.lastFallback
}

func (e *Evaluator) expiration(track domain.TrackInfo) time.Time {
	if !e.settings.SetExpiration || track.Length <= 0 {
		return time.Time{}
	}
	return Expiration(e.clock.Now(), track.Length)
}

// PickFallback chooses one emoji from pool using rng
func PickFallback(pool []string, rng *rand.Rand) string {
	switch len(pool) {
	case 0:
		return ""
	case 1:
		return pool[0]
	default:
		return pool[rng.IntN(len(pool))]
	}
}

// Format substitutes {artist}, {title} and {album} and trims the result to
// the status length limit. Missing fields render empty and surrounding
// whitespace is kept as written.
func Format(format string, track domain.TrackInfo) string {
	r := strings.NewReplacer(
		"{artist}", track.Artist,
		"{title}", track.Title,
		"{album}", track.Album,
	)
	return Trim(r.Replace(format))
}

// Trim shortens text longer than the status limit and appends an ellipsis
func Trim(text string) string {
	runes := []rune(text)
	if len(runes) <= _maxStatusLength {
		return text
	}
	return string(runes[:_maxStatusLength]) + _ellipsis
}

// Expiration returns now+length rounded up to the next whole minute.
// Slack sometimes clears a status early, rounding up avoids flicker at the end of a track.
func Expiration(now time.Time, length time.Duration) time.Time {
	t := now.Add(length)
	truncated := t.Truncate(time.Minute)
	if truncated.Equal(t) {
		return t
	}
	return truncated.Add(time.Minute)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
