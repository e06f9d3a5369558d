package engine

import (
	"context"
	"sync"
	"time"

	"github.com/genricoloni/slobbler/internal/domain"
	"github.com/genricoloni/slobbler/internal/registry"
	"github.com/genricoloni/slobbler/internal/rules"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Engine orchestrates the status pipeline.
// It folds player events into the registry, picks the active track, evaluates
// the rules and hands the decision to the publisher.
type Engine struct {
	logger    *zap.Logger
	cfg       domain.Config
	monitor   domain.Monitor
	registry  *registry.Registry
	evaluator *rules.Evaluator
	publisher *Publisher
	clock     clockwork.Clock

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a new orchestration engine
func NewEngine(
	logger *zap.Logger,
	cfg domain.Config,
	mon domain.Monitor,
	reg *registry.Registry,
	eval *rules.Evaluator,
	pub *Publisher,
	clock clockwork.Clock,
) *Engine {
	return &Engine{
		logger:    logger,
		cfg:       cfg,
		monitor:   mon,
		registry:  reg,
		evaluator: eval,
		publisher: pub,
		clock:     clock,
	}
}

// Start reads the remote status once and launches the event loop and the
// publisher in goroutines. It returns immediately (non-blocking).
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Engine starting...")

	if err := e.publisher.Sync(ctx); err != nil {
		e.logger.Warn("Could not read current status, deduplication starts cold", zap.Error(err))
	}

	// The start context only lives as long as the fx start timeout
	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.publisher.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.runLoop(runCtx)
	}()
	return nil
}

// runLoop is the main event processing loop with debouncing.
// Every event updates the registry right away; evaluation waits for a quiet
// period so skipping through tracks does not produce a write per track.
func (e *Engine) runLoop(ctx context.Context) {
	events := e.monitor.Events()
	debounce := e.cfg.GetDebounce()

	var timer clockwork.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine loop stopped")
			return

		case ev, ok := <-events:
			if !ok {
				e.logger.Info("Monitor events channel closed")
				return
			}
			e.handleEvent(ev)

			if debounce <= 0 {
				e.evaluate()
				continue
			}
			if timer == nil {
				timer = e.clock.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.Chan()

		case <-timerC:
			timerC = nil
			e.evaluate()
		}
	}
}

func (e *Engine) handleEvent(ev domain.PlayerEvent) {
	e.logger.Debug("Player event",
		zap.Stringer("kind", ev.Kind),
		zap.String("player_id", ev.PlayerID),
		zap.String("player_name", ev.PlayerName),
		zap.String("status", string(ev.Status)))
	e.registry.Apply(ev)
	e.logger.Debug("Players on bus", zap.Int("count", e.registry.Len()))
}

// evaluate recomputes the decision from the registry and submits it
func (e *Engine) evaluate() {
	d := e.decide()
	if d.Action == domain.ActionNoOp {
		e.logger.Debug("Nothing to publish", zap.String("reason", d.Reason))
		return
	}
	e.publisher.Submit(d)
}

func (e *Engine) decide() domain.StatusDecision {
	var track *domain.TrackInfo
	if t, ok := e.registry.SelectActive(); ok {
		track = &t
	}
	return e.evaluator.Evaluate(track)
}

// Stop halts the loops and, if configured, clears the status we set
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	if !e.cfg.GetClearOnExit() {
		return nil
	}

	written, err := e.publisher.Apply(ctx, domain.Clear())
	if err != nil {
		e.logger.Error("Failed to clear status on exit", zap.Error(err))
		return err
	}
	if written {
		e.logger.Info("Cleared status on exit")
	}
	return nil
}
