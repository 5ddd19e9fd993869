package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"grid-trading-bot-go/internal/alert"
	"grid-trading-bot-go/internal/grid"

	"go.uber.org/zap"
)

// Intervals configures the three periodic loops. Zero values get defaults.
type Intervals struct {
	Update time.Duration // grid reconciliation ticks
	Drift  time.Duration // range drift sweeps
	Alert  time.Duration // alert checks
}

func (i *Intervals) applyDefaults() {
	if i.Update <= 0 {
		i.Update = 30 * time.Second
	}
	if i.Drift <= 0 {
		i.Drift = 4 * time.Hour
	}
	if i.Alert <= 0 {
		i.Alert = 15 * time.Second
	}
}

// Scheduler drives the engine and the alert manager on timers: one loop
// reconciles every active grid, one sweeps for range drift, one evaluates
// alerts. Each loop is independent so a slow exchange call in one never
// stalls the others.
type Scheduler struct {
	engine    *grid.Engine
	alerts    *alert.Manager // may be nil
	notifier  alert.Notifier // may be nil, receives drift notices
	logger    *zap.SugaredLogger
	intervals Intervals

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler wires the loops together. alerts and notifier are optional.
func NewScheduler(engine *grid.Engine, alerts *alert.Manager, notifier alert.Notifier, intervals Intervals, logger *zap.SugaredLogger) *Scheduler {
	intervals.applyDefaults()
	return &Scheduler{
		engine:    engine,
		alerts:    alerts,
		notifier:  notifier,
		logger:    logger,
		intervals: intervals,
	}
}

// Start launches the loops. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("调度器已在运行")
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	s.wg.Add(1)
	go s.updateLoop()

	s.wg.Add(1)
	go s.driftLoop()

	if s.alerts != nil {
		s.wg.Add(1)
		go s.alertLoop()
	}

	s.logger.Infow("scheduler started",
		"updateInterval", s.intervals.Update, "driftInterval", s.intervals.Drift, "alertInterval", s.intervals.Alert)
}

// Stop signals the loops and waits for the in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// updateLoop reconciles every active grid on each tick, one goroutine per
// pair since pairs are independent.
func (s *Scheduler) updateLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.intervals.Update)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.UpdateAll(context.Background())
		}
	}
}

// UpdateAll runs one reconciliation tick across all active pairs and waits
// for them to complete. Exposed so a CLI invocation can force a tick.
func (s *Scheduler) UpdateAll(ctx context.Context) {
	pairs := s.engine.ActivePairs()
	if len(pairs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, pair := range pairs {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			result, err := s.engine.UpdateGrid(ctx, p)
			if err != nil {
				// The grid may have been stopped between listing and locking.
				if !errors.Is(err, grid.ErrNoActiveGrid) {
					s.logger.Errorw("grid tick failed", "pair", p, "err", err)
				}
				return
			}
			if result.CompletedThisTick > 0 || result.StatusErrors > 0 {
				s.logger.Infow("grid tick",
					"pair", p, "filled", result.CompletedThisTick, "replaced", result.NewOrdersThisTick,
					"statusErrors", result.StatusErrors, "activeOrders", result.ActiveOrders,
					"totalProfit", result.TotalProfit)
			}
		}(pair)
	}
	wg.Wait()
}

// driftLoop periodically compares configured grid ranges against the market
// and forwards any notices to the notifier.
func (s *Scheduler) driftLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.intervals.Drift)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.CheckDrift(context.Background())
		}
	}
}

// CheckDrift runs one drift sweep and dispatches the notices.
func (s *Scheduler) CheckDrift(ctx context.Context) {
	notices := s.engine.CheckRangeDrift(ctx)
	for _, notice := range notices {
		s.logger.Warnw("grid range has drifted",
			"pair", notice.Pair,
			"configuredLow", notice.PriceLower, "configuredHigh", notice.PriceUpper,
			"freshLow", notice.FreshLow, "freshHigh", notice.FreshHigh)
		if s.notifier != nil {
			s.notifier.Notify(alert.Notification{
				Kind: alert.KindDrift,
				Pair: notice.Pair,
				Message: fmt.Sprintf("grid range drift: %s configured [%.4f, %.4f], market now [%.4f, %.4f]; consider recreating the grid",
					notice.Pair, notice.PriceLower, notice.PriceUpper, notice.FreshLow, notice.FreshHigh),
				Time: time.Now(),
			})
		}
	}
}

// alertLoop evaluates armed alerts.
func (s *Scheduler) alertLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.intervals.Alert)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.alerts.CheckAll(context.Background())
		}
	}
}
