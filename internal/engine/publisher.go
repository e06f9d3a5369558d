package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/genricoloni/slobbler/internal/domain"
	"github.com/genricoloni/slobbler/internal/guard"
	"github.com/kyokomi/emoji/v2"
	"go.uber.org/zap"
)

// Publisher is the single writer of the remote status.
// Decisions are queued in a one-slot mailbox where a newer decision replaces
// an older one that has not been written yet.
type Publisher struct {
	logger *zap.Logger
	status domain.StatusService
	guard  *guard.Guard
	queue  chan domain.StatusDecision

	// mu serializes writes and guards the last issued action
	mu      sync.Mutex
	last    domain.StatusDecision
	hasLast bool
}

// NewPublisher creates a publisher writing through status and checking with g
func NewPublisher(logger *zap.Logger, status domain.StatusService, g *guard.Guard) *Publisher {
	return &Publisher{
		logger: logger,
		status: status,
		guard:  g,
		queue:  make(chan domain.StatusDecision, 1),
	}
}

// Submit queues d without blocking, replacing any decision still waiting
func (p *Publisher) Submit(d domain.StatusDecision) {
	for {
		select {
		case p.queue <- d:
			return
		default:
		}

		select {
		case stale := <-p.queue:
			p.logger.Debug("Superseded pending decision",
				zap.Stringer("action", stale.Action),
				zap.String("text", stale.Text))
		default:
		}
	}
}

// Run writes queued decisions until ctx is cancelled
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-p.queue:
			if _, err := p.Apply(ctx, d); err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Error("Failed to update status",
					zap.Stringer("action", d.Action),
					zap.String("text", d.Text),
					zap.Error(err))
			}
		}
	}
}

// Apply writes d if it differs from the last issued action and the guard permits it.
// It reports whether a write happened. On error nothing is recorded, so the
// next decision is attempted from scratch.
func (p *Publisher) Apply(ctx context.Context, d domain.StatusDecision) (bool, error) {
	if d.Action == domain.ActionNoOp {
		return false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasLast && p.last.Same(d) {
		p.logger.Debug("Status unchanged, skipping write",
			zap.Stringer("action", d.Action),
			zap.String("text", d.Text))
		return false, nil
	}

	remote, err := p.status.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read status: %w", err)
	}

	if !p.guard.Permit(d, remote) {
		return false, nil
	}

	if err := p.status.Write(ctx, d.Update()); err != nil {
		return false, fmt.Errorf("failed to write status: %w", err)
	}

	p.guard.Record(d)
	p.last, p.hasLast = d, true

	if d.Action == domain.ActionClear {
		p.logger.Info("Status cleared")
	} else {
		p.logger.Info("Status updated",
			zap.String("text", d.Text),
			zap.String("emoji", d.Emoji),
			zap.String("icon", strings.TrimSpace(emoji.Sprint(d.Emoji))),
			zap.Time("expiration", d.Expiration))
	}
	return true, nil
}

// Sync reads the remote status once and seeds the last issued action from it,
// so a restart does not rewrite a status that is already correct
func (p *Publisher) Sync(ctx context.Context) error {
	remote, err := p.status.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read initial status: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if remote.IsEmpty() {
		p.last, p.hasLast = domain.Clear(), true
		p.logger.Debug("Remote status is empty")
		return nil
	}

	if last, ok := p.guard.LastWritten(); ok && last == remote.Emoji {
		p.last, p.hasLast = domain.Publish(remote.Text, remote.Emoji, remote.Expiration), true
		p.logger.Info("Found our previous status",
			zap.String("text", remote.Text),
			zap.String("emoji", remote.Emoji))
		return nil
	}

	p.logger.Info("Remote status was set by someone else",
		zap.String("text", remote.Text),
		zap.String("emoji", remote.Emoji))
	return nil
}

// LastIssued returns the last action actually written
func (p *Publisher) LastIssued() (domain.StatusDecision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.hasLast
}
