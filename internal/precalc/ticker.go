package precalc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"redgraph/engine/internal/config"
	"redgraph/engine/internal/store"
)

// Ticker drives runs on an interval. TriggerNow requests an immediate
// run between ticks; a rate limiter keyed to the interval absorbs bursts
// of triggers so the engine never runs back to back.
//
// When a reload function is supplied, configuration is re-read before
// every run, so the admin toggles (enabled, cadence, forced full
// rebuilds) take effect without restarting the loop.
type Ticker struct {
	store  *store.Store
	cfg    config.PrecalcConfig
	log    *zap.SugaredLogger
	reload func() (*config.Config, error)

	limiter *rate.Limiter
	trigger chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewTicker creates a Ticker. reload may be nil, which pins the given
// settings for the lifetime of the loop. Call Start to begin.
func NewTicker(st *store.Store, cfg config.PrecalcConfig, reload func() (*config.Config, error), log *zap.SugaredLogger) *Ticker {
	return &Ticker{
		store:   st,
		cfg:     cfg,
		log:     log,
		reload:  reload,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval()), 1),
		trigger: make(chan struct{}, 1),
	}
}

// Start launches the run loop. The first run fires immediately, then on
// the configured interval until Stop or context cancellation.
func (t *Ticker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.loop(ctx)
	t.log.Infow("precalc ticker started", "interval", t.cfg.Interval())
}

// Stop cancels the loop and waits for any in-flight run to finish.
func (t *Ticker) Stop() {
	t.once.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.wg.Wait()
		t.log.Infow("precalc ticker stopped")
	})
}

// TriggerNow requests a run outside the schedule. Returns false if a
// trigger is already pending or the rate limit disallows one.
func (t *Ticker) TriggerNow() bool {
	if !t.limiter.Allow() {
		return false
	}
	select {
	case t.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (t *Ticker) loop(ctx context.Context) {
	defer t.wg.Done()

	t.runOnce(ctx)

	interval := t.cfg.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-t.trigger:
		}
		t.runOnce(ctx)
		if cur := t.cfg.Interval(); cur != interval {
			interval = cur
			ticker.Reset(interval)
			t.log.Infow("run interval changed", "interval", interval)
		}
	}
}

// refresh re-reads configuration ahead of a run. Reports whether the
// engine is enabled; a failed reload keeps the previous settings rather
// than stopping the loop.
func (t *Ticker) refresh() bool {
	if t.reload == nil {
		return true
	}
	cfg, err := t.reload()
	if err != nil {
		t.log.Warnw("config reload failed, keeping previous settings", "error", err)
		return true
	}
	if cfg.Precalc.Interval() != t.cfg.Interval() {
		t.limiter.SetLimit(rate.Every(cfg.Precalc.Interval()))
	}
	t.cfg = cfg.Precalc
	return cfg.Enabled
}

func (t *Ticker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !t.refresh() {
		t.log.Debugw("engine disabled, skipping scheduled run")
		return
	}
	res, err := NewRunner(t.store, t.cfg, t.log).Run(ctx, false)
	if err != nil {
		t.log.Errorw("scheduled run failed", "error", err)
		return
	}
	if res.Skipped {
		t.log.Debugw("scheduled run skipped", "duration", res.Duration)
	}
}
