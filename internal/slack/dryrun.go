package slack

import (
	"context"
	"sync"

	"github.com/genricoloni/slobbler/internal/domain"
	"go.uber.org/zap"
)

// DryRun logs status writes instead of sending them.
// Read returns whatever was last written so the guard behaves as it would live.
type DryRun struct {
	logger *zap.Logger

	mu      sync.Mutex
	current domain.RemoteStatus
	writes  int
}

// NewDryRun creates a status service that never leaves the process
func NewDryRun(logger *zap.Logger) *DryRun {
	return &DryRun{logger: logger}
}

func (d *DryRun) Read(ctx context.Context) (domain.RemoteStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.RemoteStatus{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current, nil
}

func (d *DryRun) Write(ctx context.Context, update domain.StatusUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	d.current = domain.RemoteStatus(update)
	d.writes++
	d.mu.Unlock()

	if update == (domain.StatusUpdate{}) {
		d.logger.Info("[dry-run] Clearing status")
		return nil
	}
	d.logger.Info("[dry-run] Setting status",
		zap.String("text", update.Text),
		zap.String("emoji", update.Emoji),
		zap.Time("expiration", update.Expiration))
	return nil
}

// Writes returns how many writes were made
func (d *DryRun) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}
