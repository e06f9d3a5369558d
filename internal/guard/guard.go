package guard

import (
	"github.com/genricoloni/slobbler/internal/domain"
	"go.uber.org/zap"
)

// Guard refuses to overwrite a status that somebody else set.
// Our own status is recognised by the emoji we last wrote.
type Guard struct {
	logger *zap.Logger
	store  domain.StateStore

	lastEmoji string
	hasLast   bool
}

// New creates a guard seeded from the persisted last-written emoji
func New(logger *zap.Logger, store domain.StateStore) *Guard {
	g := &Guard{logger: logger, store: store}
	if emoji, ok := store.LastEmoji(); ok {
		g.lastEmoji, g.hasLast = emoji, true
		logger.Debug("Restored last written emoji", zap.String("emoji", emoji))
	}
	return g
}

// Permit reports whether decision may be written over remote.
// Writes are allowed when the remote status is empty or still carries our emoji.
func (g *Guard) Permit(decision domain.StatusDecision, remote domain.RemoteStatus) bool {
	if decision.Action == domain.ActionNoOp {
		return false
	}
	if remote.IsEmpty() {
		return true
	}
	if g.hasLast && remote.Emoji == g.lastEmoji {
		return true
	}

	g.logger.Info("Status set by someone else, leaving it alone",
		zap.String("remote_emoji", remote.Emoji),
		zap.String("remote_text", remote.Text),
		zap.Stringer("action", decision.Action))
	return false
}

// Record updates the last-written emoji after a successful write.
// Persistence failures are logged; the in-memory value is still updated.
func (g *Guard) Record(decision domain.StatusDecision) {
	switch decision.Action {
	case domain.ActionPublish:
		g.lastEmoji, g.hasLast = decision.Emoji, true
		if err := g.store.SaveLastEmoji(decision.Emoji); err != nil {
			g.logger.Warn("Failed to persist last written emoji", zap.Error(err))
		}
	case domain.ActionClear:
		g.lastEmoji, g.hasLast = "", false
		if err := g.store.ClearLastEmoji(); err != nil {
			g.logger.Warn("Failed to forget last written emoji", zap.Error(err))
		}
	}
}

// LastWritten returns the emoji this daemon last wrote, if any
func (g *Guard) LastWritten() (string, bool) {
	return g.lastEmoji, g.hasLast
}
