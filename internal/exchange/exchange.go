package exchange

import (
	"context"
	"time"

	"grid-trading-bot-go/internal/models"
)

// OrderState is the exchange-side status of an order as reported by the
// gateway. The grid engine only cares about these three outcomes.
type OrderState string

const (
	OrderStateResting  OrderState = "resting"
	OrderStateFilled   OrderState = "filled"
	OrderStateCanceled OrderState = "canceled"
)

// PriceRange is a recent high/low window for a trading pair, used to derive
// grid bounds automatically.
type PriceRange struct {
	High float64
	Low  float64
}

// Ticker is a 24h rolling market snapshot for a trading pair.
type Ticker struct {
	Last        float64
	High        float64
	Low         float64
	Volume      float64
	QuoteVolume float64
}

// PriceOracle 提供行情数据查询。
type PriceOracle interface {
	GetCurrentPrice(ctx context.Context, pair string) (float64, error)
	GetRecentRange(ctx context.Context, pair string, window time.Duration) (PriceRange, error)
}

// TickerSource provides the rolling market snapshot the alert monitor needs.
type TickerSource interface {
	GetTicker(ctx context.Context, pair string) (Ticker, error)
}

// OrderGateway 提供下单、撤单与订单状态查询。
type OrderGateway interface {
	PlaceLimitOrder(ctx context.Context, pair string, side models.Side, price, amount float64) (orderID string, err error)
	CancelOrder(ctx context.Context, pair, orderID string) error
	GetOrderStatus(ctx context.Context, pair, orderID string) (OrderState, error)
}

// Wallet 提供账户余额查询。
type Wallet interface {
	GetBalances(ctx context.Context) ([]models.Balance, error)
}
