package grid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"grid-trading-bot-go/internal/exchange"
	"grid-trading-bot-go/internal/models"
	"grid-trading-bot-go/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockOracle serves a fixed price and range.
type mockOracle struct {
	price    float64
	priceErr error
	rng      exchange.PriceRange
	rngErr   error
}

func (m *mockOracle) GetCurrentPrice(ctx context.Context, pair string) (float64, error) {
	return m.price, m.priceErr
}

func (m *mockOracle) GetRecentRange(ctx context.Context, pair string, window time.Duration) (exchange.PriceRange, error) {
	return m.rng, m.rngErr
}

// placedOrder records a PlaceLimitOrder call.
type placedOrder struct {
	pair   string
	side   models.Side
	price  float64
	amount float64
}

// mockGateway records placed orders, hands out sequential IDs, and lets tests
// script per-order statuses and failures.
type mockGateway struct {
	mu        sync.Mutex
	nextID    int
	placed    []placedOrder
	statuses  map[string]exchange.OrderState
	placeErr  error
	cancelErr error
	cancelled []string
}

func newMockGateway() *mockGateway {
	return &mockGateway{statuses: make(map[string]exchange.OrderState)}
}

func (m *mockGateway) PlaceLimitOrder(ctx context.Context, pair string, side models.Side, price, amount float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.placeErr != nil {
		return "", m.placeErr
	}
	m.nextID++
	id := fmt.Sprintf("%d", m.nextID)
	m.placed = append(m.placed, placedOrder{pair: pair, side: side, price: price, amount: amount})
	m.statuses[id] = exchange.OrderStateResting
	return id, nil
}

func (m *mockGateway) CancelOrder(ctx context.Context, pair, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelled = append(m.cancelled, orderID)
	m.statuses[orderID] = exchange.OrderStateCanceled
	return nil
}

func (m *mockGateway) GetOrderStatus(ctx context.Context, pair, orderID string) (exchange.OrderState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.statuses[orderID]
	if !ok {
		return "", errors.New("unknown order")
	}
	return state, nil
}

func (m *mockGateway) setStatus(orderID string, state exchange.OrderState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[orderID] = state
}

func newTestEngine(oracle *mockOracle, gateway *mockGateway) (*Engine, registry.Registry) {
	reg := registry.NewMemoryRegistry()
	eng := NewEngine(oracle, gateway, reg, Options{}, zap.NewNop().Sugar())
	return eng, reg
}

func TestBuildLevels(t *testing.T) {
	levels := BuildLevels(30000, 40000, 10)
	require.Len(t, levels, 11)
	assert.Equal(t, 30000.0, levels[0])
	assert.Equal(t, 40000.0, levels[10])

	// Evenly spaced and strictly increasing.
	for i := 1; i < len(levels); i++ {
		assert.InDelta(t, 1000.0, levels[i]-levels[i-1], 1e-6)
		assert.Greater(t, levels[i], levels[i-1])
	}
}

func TestCreateGridPlacesLadderAroundPrice(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	gateway := newMockGateway()
	eng, _ := newTestEngine(oracle, gateway)

	result, err := eng.CreateGrid(context.Background(), CreateGridRequest{
		Pair:          "BTCUSDT",
		GridCount:     10,
		AmountPerGrid: 0.001,
		PriceLower:    30000,
		PriceUpper:    40000,
	})
	require.NoError(t, err)

	// 11 levels, the one at 35000 sits inside the dead band around the
	// current price and is skipped.
	assert.Equal(t, 10, result.OrdersPlaced)
	assert.Equal(t, 1, result.LevelsSkipped)
	assert.Equal(t, 0, result.OrdersFailed)
	require.NotNil(t, result.Config)
	assert.Equal(t, "btcusdt", result.Config.Pair)
	assert.True(t, result.Config.Active)
	assert.Len(t, result.Config.PendingOrders, 10)

	for _, o := range gateway.placed {
		assert.Equal(t, "btcusdt", o.pair)
		assert.Equal(t, 0.001, o.amount)
		if o.price < 35000 {
			assert.Equal(t, models.Buy, o.side, "price %f", o.price)
			assert.Less(t, o.price, 35000*0.99)
		} else {
			assert.Equal(t, models.Sell, o.side, "price %f", o.price)
			assert.Greater(t, o.price, 35000*1.01)
		}
	}
}

func TestCreateGridValidation(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	eng, _ := newTestEngine(oracle, newMockGateway())
	ctx := context.Background()

	_, err := eng.CreateGrid(ctx, CreateGridRequest{Pair: "", GridCount: 10, AmountPerGrid: 1, PriceLower: 1, PriceUpper: 2})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = eng.CreateGrid(ctx, CreateGridRequest{Pair: "btcusdt", GridCount: 1, AmountPerGrid: 1, PriceLower: 1, PriceUpper: 2})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = eng.CreateGrid(ctx, CreateGridRequest{Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0, PriceLower: 1, PriceUpper: 2})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = eng.CreateGrid(ctx, CreateGridRequest{Pair: "btcusdt", GridCount: 10, AmountPerGrid: 1, PriceLower: 40000, PriceUpper: 30000})
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = eng.CreateGrid(ctx, CreateGridRequest{Pair: "btcusdt", GridCount: 10, AmountPerGrid: 1, PriceLower: 50000, PriceUpper: 60000})
	assert.ErrorIs(t, err, ErrPriceOutOfRange)
}

func TestCreateGridRejectsSecondActiveGrid(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	eng, _ := newTestEngine(oracle, newMockGateway())
	ctx := context.Background()

	req := CreateGridRequest{Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000}
	_, err := eng.CreateGrid(ctx, req)
	require.NoError(t, err)

	_, err = eng.CreateGrid(ctx, req)
	assert.ErrorIs(t, err, ErrAlreadyActive)

	// A different pair is unaffected.
	req.Pair = "ethusdt"
	oracle.price = 35000
	_, err = eng.CreateGrid(ctx, req)
	assert.NoError(t, err)
}

func TestCreateGridAutoRange(t *testing.T) {
	oracle := &mockOracle{price: 35000, rng: exchange.PriceRange{Low: 30000, High: 40000}}
	eng, _ := newTestEngine(oracle, newMockGateway())

	result, err := eng.CreateGrid(context.Background(), CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, UseAutoRange: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 30000.0, result.Config.PriceLower)
	assert.Equal(t, 40000.0, result.Config.PriceUpper)
}

func TestCreateGridAutoRangeUnavailable(t *testing.T) {
	oracle := &mockOracle{price: 35000, rngErr: errors.New("klines down")}
	eng, _ := newTestEngine(oracle, newMockGateway())

	_, err := eng.CreateGrid(context.Background(), CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, UseAutoRange: true,
	})
	assert.ErrorIs(t, err, ErrRangeUnavailable)
}

func TestCreateGridPartialPlacementKept(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	gateway := newMockGateway()
	gateway.placeErr = errors.New("exchange rejected")
	eng, reg := newTestEngine(oracle, gateway)

	result, err := eng.CreateGrid(context.Background(), CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.OrdersPlaced)
	assert.Equal(t, 10, result.OrdersFailed)

	// Grid is still registered as active even with zero resting orders.
	cfg, err := reg.GetActive("btcusdt")
	require.NoError(t, err)
	assert.Empty(t, cfg.PendingOrders)
}

func TestUpdateGridNoFillsIsIdempotent(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	gateway := newMockGateway()
	eng, _ := newTestEngine(oracle, gateway)
	ctx := context.Background()

	created, err := eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		result, err := eng.UpdateGrid(ctx, "btcusdt")
		require.NoError(t, err)
		assert.Equal(t, 0, result.CompletedThisTick)
		assert.Equal(t, 0, result.NewOrdersThisTick)
		assert.Equal(t, created.OrdersPlaced, result.ActiveOrders)
	}
	// No extra orders beyond the initial ladder.
	assert.Len(t, gateway.placed, created.OrdersPlaced)
}

func TestUpdateGridReplacesBuyFillWithSell(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	gateway := newMockGateway()
	eng, reg := newTestEngine(oracle, gateway)
	ctx := context.Background()

	_, err := eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)

	// Fill the buy at 34000.
	cfg, err := reg.GetActive("btcusdt")
	require.NoError(t, err)
	var filledID string
	for _, o := range cfg.PendingOrders {
		if o.Side == models.Buy && o.Price == 34000 {
			filledID = o.OrderID
		}
	}
	require.NotEmpty(t, filledID)
	gateway.setStatus(filledID, exchange.OrderStateFilled)

	result, err := eng.UpdateGrid(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 1, result.CompletedThisTick)
	assert.Equal(t, 1, result.NewOrdersThisTick)
	assert.Equal(t, 1, result.TotalCompleted)
	// Buy fills do not contribute to the profit estimate.
	assert.Equal(t, 0.0, result.TotalProfit)

	last := gateway.placed[len(gateway.placed)-1]
	assert.Equal(t, models.Sell, last.side)
	assert.InDelta(t, 34000*1.005, last.price, 1e-6) // 34170
	assert.Equal(t, 0.001, last.amount)
}

func TestUpdateGridSellFillAccruesProfit(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	gateway := newMockGateway()
	eng, reg := newTestEngine(oracle, gateway)
	ctx := context.Background()

	_, err := eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)

	cfg, err := reg.GetActive("btcusdt")
	require.NoError(t, err)
	var filledID string
	for _, o := range cfg.PendingOrders {
		if o.Side == models.Sell && o.Price == 36000 {
			filledID = o.OrderID
		}
	}
	require.NotEmpty(t, filledID)
	gateway.setStatus(filledID, exchange.OrderStateFilled)

	result, err := eng.UpdateGrid(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalCompleted)
	assert.InDelta(t, 0.001*36000*0.001, result.TotalProfit, 1e-9)

	// Replacement is a buy below the fill.
	last := gateway.placed[len(gateway.placed)-1]
	assert.Equal(t, models.Buy, last.side)
	assert.InDelta(t, 36000*0.995, last.price, 1e-6)
}

func TestUpdateGridDropsExternallyCancelledOrders(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	gateway := newMockGateway()
	eng, reg := newTestEngine(oracle, gateway)
	ctx := context.Background()

	created, err := eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)

	cfg, err := reg.GetActive("btcusdt")
	require.NoError(t, err)
	gateway.setStatus(cfg.PendingOrders[0].OrderID, exchange.OrderStateCanceled)

	result, err := eng.UpdateGrid(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 0, result.CompletedThisTick)
	assert.Equal(t, created.OrdersPlaced-1, result.ActiveOrders)
}

func TestUpdateGridKeepsOrderOnStatusError(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	gateway := newMockGateway()
	eng, reg := newTestEngine(oracle, gateway)
	ctx := context.Background()

	created, err := eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)

	// Forget one order's status so the lookup errors.
	cfg, err := reg.GetActive("btcusdt")
	require.NoError(t, err)
	gateway.mu.Lock()
	delete(gateway.statuses, cfg.PendingOrders[0].OrderID)
	gateway.mu.Unlock()

	result, err := eng.UpdateGrid(ctx, "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, 1, result.StatusErrors)
	assert.Equal(t, created.OrdersPlaced, result.ActiveOrders)
}

func TestUpdateGridNoActiveGrid(t *testing.T) {
	eng, _ := newTestEngine(&mockOracle{price: 35000}, newMockGateway())
	_, err := eng.UpdateGrid(context.Background(), "btcusdt")
	assert.ErrorIs(t, err, ErrNoActiveGrid)
}

func TestStopGridCancelsAndDeactivates(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	gateway := newMockGateway()
	eng, reg := newTestEngine(oracle, gateway)
	ctx := context.Background()

	created, err := eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)

	result, err := eng.StopGrid(ctx, "btcusdt", true)
	require.NoError(t, err)
	assert.Equal(t, created.OrdersPlaced, result.CancelledOrders)
	assert.Equal(t, 0, result.CancelFailures)

	// Stop is terminal: no active grid remains, but the stopped config is
	// still readable for status.
	_, err = reg.GetActive("btcusdt")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	cfg, err := reg.Get("btcusdt")
	require.NoError(t, err)
	assert.False(t, cfg.Active)
	assert.False(t, cfg.StoppedAt.IsZero())

	// Further operations see no active grid.
	_, err = eng.UpdateGrid(ctx, "btcusdt")
	assert.ErrorIs(t, err, ErrNoActiveGrid)
	_, err = eng.StopGrid(ctx, "btcusdt", true)
	assert.ErrorIs(t, err, ErrNoActiveGrid)

	// And the pair can be re-created.
	_, err = eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	assert.NoError(t, err)
}

func TestStopGridCancelFailuresDoNotBlockDeactivation(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	gateway := newMockGateway()
	eng, reg := newTestEngine(oracle, gateway)
	ctx := context.Background()

	created, err := eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)

	gateway.cancelErr = errors.New("cancel rejected")
	result, err := eng.StopGrid(ctx, "btcusdt", true)
	require.NoError(t, err)
	assert.Equal(t, 0, result.CancelledOrders)
	assert.Equal(t, created.OrdersPlaced, result.CancelFailures)

	cfg, err := reg.Get("btcusdt")
	require.NoError(t, err)
	assert.False(t, cfg.Active)
}

func TestStopGridWithoutCancel(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	gateway := newMockGateway()
	eng, _ := newTestEngine(oracle, gateway)
	ctx := context.Background()

	_, err := eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)

	result, err := eng.StopGrid(ctx, "btcusdt", false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.CancelledOrders)
	assert.Empty(t, gateway.cancelled)
}

func TestCheckRangeDrift(t *testing.T) {
	oracle := &mockOracle{price: 35000, rng: exchange.PriceRange{Low: 30000, High: 40000}}
	eng, _ := newTestEngine(oracle, newMockGateway())
	ctx := context.Background()

	_, err := eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)

	// Fresh range matches the configured bounds: no notice.
	assert.Empty(t, eng.CheckRangeDrift(ctx))

	// 2% drift stays under the 5% threshold.
	oracle.rng = exchange.PriceRange{Low: 30600, High: 40800}
	assert.Empty(t, eng.CheckRangeDrift(ctx))

	// 10% drift on the upper bound triggers a notice.
	oracle.rng = exchange.PriceRange{Low: 30000, High: 44000}
	notices := eng.CheckRangeDrift(ctx)
	require.Len(t, notices, 1)
	assert.Equal(t, "btcusdt", notices[0].Pair)
	assert.Equal(t, 44000.0, notices[0].FreshHigh)

	// Range fetch failure skips the pair rather than failing the sweep.
	oracle.rngErr = errors.New("klines down")
	assert.Empty(t, eng.CheckRangeDrift(ctx))
}

func TestGetStatusAndAllStatus(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	eng, _ := newTestEngine(oracle, newMockGateway())
	ctx := context.Background()

	created, err := eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "btcusdt", GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)
	_, err = eng.CreateGrid(ctx, CreateGridRequest{
		Pair: "ethusdt", GridCount: 10, AmountPerGrid: 0.01, PriceLower: 30000, PriceUpper: 40000,
	})
	require.NoError(t, err)

	status, err := eng.GetStatus("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "btcusdt", status.Pair)
	assert.True(t, status.Active)
	assert.Equal(t, created.OrdersPlaced, status.ActiveOrders)

	_, err = eng.GetStatus("dogeusdt")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	// Stopped grids stay visible in the overall status.
	_, err = eng.StopGrid(ctx, "ethusdt", true)
	require.NoError(t, err)

	all, err := eng.AllStatus()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, []string{"btcusdt"}, eng.ActivePairs())
}

func TestUpdateGridConcurrentPairs(t *testing.T) {
	oracle := &mockOracle{price: 35000}
	gateway := newMockGateway()
	eng, _ := newTestEngine(oracle, gateway)
	ctx := context.Background()

	pairs := []string{"btcusdt", "ethusdt", "bnbusdt"}
	for _, pair := range pairs {
		_, err := eng.CreateGrid(ctx, CreateGridRequest{
			Pair: pair, GridCount: 10, AmountPerGrid: 0.001, PriceLower: 30000, PriceUpper: 40000,
		})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, pair := range pairs {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				_, err := eng.UpdateGrid(ctx, p)
				assert.NoError(t, err)
			}(pair)
		}
	}
	wg.Wait()
}
