package models

import "time"

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderStatus is the lifecycle state of a grid order as the engine tracks it.
// Only two states matter here: an order is either still resting on the book or
// it has been filled. Cancelled orders are removed from the pending set.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderFilled  OrderStatus = "filled"
)

// GridOrder 代表网格中的一个挂单
type GridOrder struct {
	OrderID string      `json:"order_id"`
	Side    Side        `json:"side"`
	Price   float64     `json:"price"`
	Amount  float64     `json:"amount"`
	Status  OrderStatus `json:"status"`
}

// GridConfig is the full state of one grid for one trading pair. A pair has at
// most one active GridConfig at a time; stopped configs are kept for history.
type GridConfig struct {
	Pair            string      `json:"pair"`             // 交易对, e.g. "btcusdt"
	GridCount       int         `json:"grid_count"`       // 网格数量（区间数）
	AmountPerGrid   float64     `json:"amount_per_grid"`  // 每格交易量（基础货币）
	PriceUpper      float64     `json:"price_upper"`      // 网格上限
	PriceLower      float64     `json:"price_lower"`      // 网格下限
	GridPrices      []float64   `json:"grid_prices"`      // gridCount+1 个等距价位，严格递增
	PendingOrders   []GridOrder `json:"pending_orders"`   // 当前挂单，按交易所订单ID唯一
	CompletedTrades int         `json:"completed_trades"` // 累计成交次数
	TotalProfit     float64     `json:"total_profit"`     // 估算的累计利润（非逐笔账本）
	Active          bool        `json:"active"`
	CreatedAt       time.Time   `json:"created_at"`
	StoppedAt       time.Time   `json:"stopped_at,omitempty"`
	LastUpdateAt    time.Time   `json:"last_update_at"`
}

// Clone returns a deep copy so callers can read or mutate a config without
// sharing slices with the registry's stored state.
func (c *GridConfig) Clone() *GridConfig {
	if c == nil {
		return nil
	}
	cp := *c
	if c.GridPrices != nil {
		cp.GridPrices = make([]float64, len(c.GridPrices))
		copy(cp.GridPrices, c.GridPrices)
	}
	if c.PendingOrders != nil {
		cp.PendingOrders = make([]GridOrder, len(c.PendingOrders))
		copy(cp.PendingOrders, c.PendingOrders)
	}
	return &cp
}

// GridStatus is the read-only summary exposed to the front-end for the
// "grid status" / "list grids" commands.
type GridStatus struct {
	Pair            string    `json:"pair"`
	Active          bool      `json:"active"`
	GridCount       int       `json:"grid_count"`
	PriceLower      float64   `json:"price_lower"`
	PriceUpper      float64   `json:"price_upper"`
	CompletedTrades int       `json:"completed_trades"`
	TotalProfit     float64   `json:"total_profit"`
	ActiveOrders    int       `json:"active_orders"`
	CreatedAt       time.Time `json:"created_at"`
	LastUpdateAt    time.Time `json:"last_update_at"`
}

// Status derives the summary view from a config.
func (c *GridConfig) Status() GridStatus {
	return GridStatus{
		Pair:            c.Pair,
		Active:          c.Active,
		GridCount:       c.GridCount,
		PriceLower:      c.PriceLower,
		PriceUpper:      c.PriceUpper,
		CompletedTrades: c.CompletedTrades,
		TotalProfit:     c.TotalProfit,
		ActiveOrders:    len(c.PendingOrders),
		CreatedAt:       c.CreatedAt,
		LastUpdateAt:    c.LastUpdateAt,
	}
}

// DriftNotice is emitted by the range drift check when a grid's configured
// bounds have moved too far from the freshly measured market range. Advisory
// only; the engine never adjusts an active grid's bounds by itself.
type DriftNotice struct {
	Pair       string  `json:"pair"`
	PriceLower float64 `json:"price_lower"`
	PriceUpper float64 `json:"price_upper"`
	FreshLow   float64 `json:"fresh_low"`
	FreshHigh  float64 `json:"fresh_high"`
}

// Balance 定义了账户中特定资产的余额信息
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}
