package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// Run drives ticks at the configured poll interval while the engine is
// started, until ctx is cancelled. A poll interval change resets the ticker;
// Start triggers an immediate tick. Call it once, in its own goroutine.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.Config().PollInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.InfoContext(ctx, "scheduler started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "scheduler stopped")
			return nil
		case d := <-e.reset:
			ticker.Reset(d)
			e.logger.InfoContext(ctx, "poll interval changed", slog.Duration("interval", d))
		case <-e.kick:
			e.runTick(ctx)
		case <-ticker.C:
			e.runTick(ctx)
		}
	}
}

func (e *Engine) runTick(ctx context.Context) {
	out, ran := e.guardedTick(ctx, true)
	if !ran {
		return
	}
	if !out.Attempted() && out.Reason != "" && out.Reason != "cooldown" {
		e.logger.DebugContext(ctx, "tick skipped", slog.String("reason", out.Reason))
	}
}

// Start marks the engine running and persists that. It waits for any
// in-flight tick. Starting a running engine returns domain.ErrAlreadyRunning
// and changes nothing.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.setRunning(ctx, true); err != nil {
		return err
	}
	select {
	case e.kick <- struct{}{}:
	default:
	}
	e.logger.InfoContext(ctx, "bot started",
		slog.Duration("interval", e.Config().PollInterval()),
		slog.Bool("safe_mode", e.Config().SafeMode),
	)
	return nil
}

// Stop marks the engine stopped and persists that. Stopping a stopped engine
// returns domain.ErrNotRunning and changes nothing.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.setRunning(ctx, false); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "bot stopped")
	return nil
}

func (e *Engine) setRunning(ctx context.Context, running bool) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	state := e.State()
	if state.IsRunning == running {
		if running {
			return domain.ErrAlreadyRunning
		}
		return domain.ErrNotRunning
	}
	state.IsRunning = running

	e.stateMu.Lock()
	if running {
		e.startedAt = e.now()
	} else {
		e.startedAt = time.Time{}
	}
	e.stateMu.Unlock()

	if err := e.commit(ctx, state); err != nil {
		return fmt.Errorf("switcher: set running: %w", err)
	}
	return nil
}
