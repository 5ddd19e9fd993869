package grid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"grid-trading-bot-go/internal/exchange"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/registry"

	"go.uber.org/zap"
)

// Engine operation errors. Callers match these with errors.Is; everything
// else coming out of the engine is a transient exchange/persistence failure
// and can be retried.
var (
	ErrInvalidParams    = errors.New("invalid grid parameters")
	ErrAlreadyActive    = errors.New("pair already has an active grid")
	ErrNoActiveGrid     = errors.New("pair has no active grid")
	ErrInvalidRange     = errors.New("price upper bound must exceed lower bound")
	ErrPriceOutOfRange  = errors.New("current price is outside the grid range")
	ErrRangeUnavailable = errors.New("could not derive price range")
)

// Options tunes the engine's margins and timeouts. Zero values are replaced
// by the reference defaults.
type Options struct {
	DeadBandRate      float64       // no initial order within ±this ratio of current price
	ReplacementMargin float64       // offset ratio for the opposite-side replacement order
	ProfitMarginRate  float64       // flat assumed margin used for the profit estimate
	DriftThreshold    float64       // bound movement ratio that triggers a drift notice
	RangeWindow       time.Duration // candle window for automatic range derivation
	CallTimeout       time.Duration // per exchange call
}

func (o *Options) applyDefaults() {
	if o.DeadBandRate <= 0 {
		o.DeadBandRate = 0.01
	}
	if o.ReplacementMargin <= 0 {
		o.ReplacementMargin = 0.005
	}
	if o.ProfitMarginRate <= 0 {
		o.ProfitMarginRate = 0.001
	}
	if o.DriftThreshold <= 0 {
		o.DriftThreshold = 0.05
	}
	if o.RangeWindow <= 0 {
		o.RangeWindow = 4 * time.Hour
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 8 * time.Second
	}
}

// Engine owns grid lifecycles: it computes level ladders, places the initial
// orders, reconciles fills into replacement orders on each tick, and tracks
// cumulative trade count and estimated profit per pair.
//
// All mutations of a pair's config happen under that pair's lock, and the
// config is written back to the registry before the lock is released, so a
// crash loses at most one tick of progress. Different pairs are independent
// and may be operated on concurrently.
type Engine struct {
	oracle  exchange.PriceOracle
	gateway exchange.OrderGateway
	reg     registry.Registry
	logger  *zap.SugaredLogger
	opts    Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a grid engine on top of the given collaborators.
func NewEngine(oracle exchange.PriceOracle, gateway exchange.OrderGateway, reg registry.Registry, opts Options, logger *zap.SugaredLogger) *Engine {
	opts.applyDefaults()
	return &Engine{
		oracle:  oracle,
		gateway: gateway,
		reg:     reg,
		logger:  logger,
		opts:    opts,
		locks:   make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding a pair, creating it on first use.
func (e *Engine) lockFor(pair string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[pair]
	if !ok {
		l = &sync.Mutex{}
		e.locks[pair] = l
	}
	return l
}

// callCtx bounds a single exchange call so a stalled request cannot hold a
// pair's lock indefinitely.
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.CallTimeout)
}

func normalizePair(pair string) string {
	return strings.ToLower(strings.TrimSpace(pair))
}

// BuildLevels computes the evenly spaced price ladder: count+1 strictly
// increasing levels from lower to upper inclusive.
func BuildLevels(lower, upper float64, count int) []float64 {
	step := (upper - lower) / float64(count)
	prices := make([]float64, count+1)
	for i := 0; i <= count; i++ {
		prices[i] = lower + step*float64(i)
	}
	// Pin the endpoints so float accumulation never shaves the top level.
	prices[0] = lower
	prices[count] = upper
	return prices
}

// CreateGridRequest describes a new grid. When UseAutoRange is set the
// bounds are derived from the most recent candle window instead of
// PriceUpper/PriceLower.
type CreateGridRequest struct {
	Pair          string
	GridCount     int
	AmountPerGrid float64
	UseAutoRange  bool
	PriceUpper    float64
	PriceLower    float64
}

// CreateGridResult reports what CreateGrid actually did. OrdersPlaced can be
// lower than GridCount+1: levels inside the dead band are skipped and
// gateway rejections are not rolled back.
type CreateGridResult struct {
	Config        *models.GridConfig
	OrdersPlaced  int
	LevelsSkipped int
	OrdersFailed  int
}

// CreateGrid validates the request, resolves the price range, places the
// initial ladder of limit orders around the current price, and registers the
// resulting config as the pair's active grid.
func (e *Engine) CreateGrid(ctx context.Context, req CreateGridRequest) (*CreateGridResult, error) {
	pair := normalizePair(req.Pair)
	if pair == "" || req.GridCount < 2 || req.AmountPerGrid <= 0 {
		return nil, fmt.Errorf("%w: pair=%q gridCount=%d amountPerGrid=%f",
			ErrInvalidParams, req.Pair, req.GridCount, req.AmountPerGrid)
	}

	lock := e.lockFor(pair)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.reg.GetActive(pair); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyActive, pair)
	}

	upper, lower := req.PriceUpper, req.PriceLower
	if req.UseAutoRange {
		cctx, cancel := e.callCtx(ctx)
		rng, err := e.oracle.GetRecentRange(cctx, pair, e.opts.RangeWindow)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRangeUnavailable, err)
		}
		upper, lower = rng.High, rng.Low
		e.logger.Infow("derived grid range from recent candle", "pair", pair, "low", lower, "high", upper)
	}
	if upper <= lower || lower <= 0 {
		return nil, fmt.Errorf("%w: lower=%f upper=%f", ErrInvalidRange, lower, upper)
	}

	cctx, cancel := e.callCtx(ctx)
	current, err := e.oracle.GetCurrentPrice(cctx, pair)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetch current price for %s: %w", pair, err)
	}
	if current < lower || current > upper {
		return nil, fmt.Errorf("%w: price=%f range=[%f, %f]", ErrPriceOutOfRange, current, lower, upper)
	}

	cfg := &models.GridConfig{
		Pair:          pair,
		GridCount:     req.GridCount,
		AmountPerGrid: req.AmountPerGrid,
		PriceUpper:    upper,
		PriceLower:    lower,
		GridPrices:    BuildLevels(lower, upper, req.GridCount),
		Active:        true,
		CreatedAt:     time.Now(),
		LastUpdateAt:  time.Now(),
	}

	result := &CreateGridResult{}
	buyBelow := current * (1 - e.opts.DeadBandRate)
	sellAbove := current * (1 + e.opts.DeadBandRate)

	for _, price := range cfg.GridPrices {
		var side models.Side
		switch {
		case price < buyBelow:
			side = models.Buy
		case price > sellAbove:
			side = models.Sell
		default:
			// Too close to the live price to place safely.
			result.LevelsSkipped++
			continue
		}

		order, err := e.placeOrder(ctx, pair, side, price, req.AmountPerGrid)
		if err != nil {
			// Deliberate: partial placement is not rolled back. The config
			// keeps whatever succeeded and the shortfall is reported.
			e.logger.Warnw("initial grid order rejected", "pair", pair, "side", side, "price", price, "err", err)
			result.OrdersFailed++
			continue
		}
		cfg.PendingOrders = append(cfg.PendingOrders, order)
		result.OrdersPlaced++
	}

	if err := e.reg.Upsert(cfg); err != nil {
		e.logger.Errorw("failed to persist new grid, in-memory state is authoritative", "pair", pair, "err", err)
	}

	e.logger.Infow("grid created",
		"pair", pair, "levels", len(cfg.GridPrices), "placed", result.OrdersPlaced,
		"skipped", result.LevelsSkipped, "failed", result.OrdersFailed)

	result.Config = cfg.Clone()
	return result, nil
}

// placeOrder submits one limit order with the per-call timeout and wraps the
// result as a pending GridOrder.
func (e *Engine) placeOrder(ctx context.Context, pair string, side models.Side, price, amount float64) (models.GridOrder, error) {
	cctx, cancel := e.callCtx(ctx)
	defer cancel()
	orderID, err := e.gateway.PlaceLimitOrder(cctx, pair, side, price, amount)
	if err != nil {
		return models.GridOrder{}, err
	}
	return models.GridOrder{
		OrderID: orderID,
		Side:    side,
		Price:   price,
		Amount:  amount,
		Status:  models.OrderPending,
	}, nil
}

// UpdateGridResult reports one reconciliation tick.
type UpdateGridResult struct {
	Pair              string
	CompletedThisTick int
	NewOrdersThisTick int
	StatusErrors      int // orders left pending because their status lookup failed
	TotalCompleted    int
	TotalProfit       float64
	ActiveOrders      int
}

// UpdateGrid is the reconciliation tick. For every pending order it asks the
// gateway for the current status; fills are counted and replaced with an
// opposite-side order offset by the replacement margin, keeping the ladder
// self-sustaining. Orders whose lookup fails stay pending for the next tick.
//
// The profit figure is a running estimate using a flat assumed margin on
// sell fills, not a cost-basis ledger.
func (e *Engine) UpdateGrid(ctx context.Context, pair string) (*UpdateGridResult, error) {
	pair = normalizePair(pair)

	lock := e.lockFor(pair)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := e.reg.GetActive(pair)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoActiveGrid, pair)
		}
		return nil, err
	}

	result := &UpdateGridResult{Pair: pair}
	kept := cfg.PendingOrders[:0]

	for _, order := range cfg.PendingOrders {
		cctx, cancel := e.callCtx(ctx)
		state, err := e.gateway.GetOrderStatus(cctx, pair, order.OrderID)
		cancel()
		if err != nil {
			// Transient lookup failure: leave the order for the next tick.
			e.logger.Warnw("order status lookup failed", "pair", pair, "orderId", order.OrderID, "err", err)
			result.StatusErrors++
			kept = append(kept, order)
			continue
		}

		switch state {
		case exchange.OrderStateResting:
			kept = append(kept, order)

		case exchange.OrderStateCanceled:
			// Cancelled outside the engine: drop it from the pending set.
			e.logger.Infow("pending order cancelled externally", "pair", pair, "orderId", order.OrderID)

		case exchange.OrderStateFilled:
			result.CompletedThisTick++
			cfg.CompletedTrades++
			if order.Side == models.Sell {
				cfg.TotalProfit += order.Amount * order.Price * e.opts.ProfitMarginRate
			}

			replacement, err := e.replaceFilled(ctx, pair, order)
			if err != nil {
				// No retry within this tick; the slot is dropped until the
				// operator recreates the grid.
				e.logger.Warnw("replacement order rejected", "pair", pair, "filledOrderId", order.OrderID, "err", err)
				continue
			}
			kept = append(kept, replacement)
			result.NewOrdersThisTick++
			e.logger.Infow("grid order filled and replaced",
				"pair", pair, "filledSide", order.Side, "filledPrice", order.Price,
				"newSide", replacement.Side, "newPrice", replacement.Price)
		}
	}

	cfg.PendingOrders = kept
	cfg.LastUpdateAt = time.Now()

	if err := e.reg.Upsert(cfg); err != nil {
		e.logger.Errorw("failed to persist grid after tick", "pair", pair, "err", err)
	}

	result.TotalCompleted = cfg.CompletedTrades
	result.TotalProfit = cfg.TotalProfit
	result.ActiveOrders = len(cfg.PendingOrders)
	return result, nil
}

// replaceFilled submits the opposite-side order that re-arms the ladder one
// step removed from the fill: a filled buy becomes a sell above it, a filled
// sell becomes a buy below it.
func (e *Engine) replaceFilled(ctx context.Context, pair string, filled models.GridOrder) (models.GridOrder, error) {
	var price float64
	if filled.Side == models.Buy {
		price = filled.Price * (1 + e.opts.ReplacementMargin)
	} else {
		price = filled.Price * (1 - e.opts.ReplacementMargin)
	}
	return e.placeOrder(ctx, pair, filled.Side.Opposite(), price, filled.Amount)
}

// StopGridResult reports a grid shutdown.
type StopGridResult struct {
	Pair            string
	CancelledOrders int
	CancelFailures  int
	TotalTrades     int
	TotalProfit     float64
}

// StopGrid cancels the pair's resting orders (when cancelOrders is set) and
// deactivates the config. Cancellation failures are counted but never block
// deactivation: a stopped grid may leave orders on the exchange that the
// engine no longer tracks.
func (e *Engine) StopGrid(ctx context.Context, pair string, cancelOrders bool) (*StopGridResult, error) {
	pair = normalizePair(pair)

	lock := e.lockFor(pair)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := e.reg.GetActive(pair)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoActiveGrid, pair)
		}
		return nil, err
	}

	result := &StopGridResult{Pair: pair}
	if cancelOrders {
		for _, order := range cfg.PendingOrders {
			cctx, cancel := e.callCtx(ctx)
			err := e.gateway.CancelOrder(cctx, pair, order.OrderID)
			cancel()
			if err != nil {
				e.logger.Warnw("cancel failed while stopping grid", "pair", pair, "orderId", order.OrderID, "err", err)
				result.CancelFailures++
				continue
			}
			result.CancelledOrders++
		}
	}

	cfg.Active = false
	cfg.StoppedAt = time.Now()
	cfg.LastUpdateAt = cfg.StoppedAt

	if err := e.reg.Upsert(cfg); err != nil {
		e.logger.Errorw("failed to persist stopped grid", "pair", pair, "err", err)
	}

	result.TotalTrades = cfg.CompletedTrades
	result.TotalProfit = cfg.TotalProfit
	e.logger.Infow("grid stopped",
		"pair", pair, "cancelled", result.CancelledOrders, "cancelFailures", result.CancelFailures,
		"totalTrades", result.TotalTrades, "totalProfit", result.TotalProfit)
	return result, nil
}

// GetStatus returns the summary for one pair, active or stopped.
func (e *Engine) GetStatus(pair string) (models.GridStatus, error) {
	cfg, err := e.reg.Get(normalizePair(pair))
	if err != nil {
		return models.GridStatus{}, err
	}
	return cfg.Status(), nil
}

// AllStatus returns summaries for every stored grid.
func (e *Engine) AllStatus() ([]models.GridStatus, error) {
	configs, err := e.reg.ListAll()
	if err != nil {
		return nil, err
	}
	statuses := make([]models.GridStatus, 0, len(configs))
	for _, cfg := range configs {
		statuses = append(statuses, cfg.Status())
	}
	return statuses, nil
}

// ActivePairs returns the pairs currently running a grid.
func (e *Engine) ActivePairs() []string {
	return e.reg.ActivePairs()
}

// CheckRangeDrift compares every active grid's configured bounds against a
// freshly derived range and returns a notice for each grid whose bounds have
// drifted past the threshold. Advisory only: the engine never adjusts an
// active grid's bounds itself.
func (e *Engine) CheckRangeDrift(ctx context.Context) []models.DriftNotice {
	var notices []models.DriftNotice
	for _, pair := range e.reg.ActivePairs() {
		cfg, err := e.reg.GetActive(pair)
		if err != nil {
			continue
		}

		cctx, cancel := e.callCtx(ctx)
		rng, err := e.oracle.GetRecentRange(cctx, pair, e.opts.RangeWindow)
		cancel()
		if err != nil {
			e.logger.Warnw("range drift check skipped", "pair", pair, "err", err)
			continue
		}

		upperDrift := abs(rng.High-cfg.PriceUpper) / cfg.PriceUpper
		lowerDrift := abs(rng.Low-cfg.PriceLower) / cfg.PriceLower
		if upperDrift > e.opts.DriftThreshold || lowerDrift > e.opts.DriftThreshold {
			notices = append(notices, models.DriftNotice{
				Pair:       pair,
				PriceLower: cfg.PriceLower,
				PriceUpper: cfg.PriceUpper,
				FreshLow:   rng.Low,
				FreshHigh:  rng.High,
			})
		}
	}
	return notices
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
