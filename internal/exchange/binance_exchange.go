package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"grid-trading-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
)

// BinanceExchange 实现了 PriceOracle / OrderGateway / Wallet，
// 通过币安现货REST接口与交易所交互。
type BinanceExchange struct {
	client *binance.Client
	logger *zap.SugaredLogger

	mu      sync.Mutex
	symbols map[string]*binance.Symbol // 交易规则缓存，按交易对
}

// NewBinanceExchange creates a spot exchange client. Set testnet before
// creating clients elsewhere; the flag is package-global in go-binance.
func NewBinanceExchange(apiKey, secretKey string, testnet bool, logger *zap.SugaredLogger) *BinanceExchange {
	binance.UseTestnet = testnet
	return &BinanceExchange{
		client:  binance.NewClient(apiKey, secretKey),
		logger:  logger,
		symbols: make(map[string]*binance.Symbol),
	}
}

// symbolFor normalizes the internal lowercase pair to the exchange form.
func symbolFor(pair string) string {
	return strings.ToUpper(strings.TrimSpace(pair))
}

// GetCurrentPrice 获取指定交易对的当前价格。
func (e *BinanceExchange) GetCurrentPrice(ctx context.Context, pair string) (float64, error) {
	prices, err := e.client.NewListPricesService().Symbol(symbolFor(pair)).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch price for %s: %w", pair, err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no price returned for %s", pair)
	}
	return strconv.ParseFloat(prices[0].Price, 64)
}

// GetRecentRange 返回最近一根K线的高低点，K线周期由窗口长度决定。
func (e *BinanceExchange) GetRecentRange(ctx context.Context, pair string, window time.Duration) (PriceRange, error) {
	klines, err := e.client.NewKlinesService().
		Symbol(symbolFor(pair)).
		Interval(intervalForWindow(window)).
		Limit(1).
		Do(ctx)
	if err != nil {
		return PriceRange{}, fmt.Errorf("fetch klines for %s: %w", pair, err)
	}
	if len(klines) == 0 {
		return PriceRange{}, fmt.Errorf("no kline data for %s", pair)
	}
	k := klines[len(klines)-1]
	high, err1 := strconv.ParseFloat(k.High, 64)
	low, err2 := strconv.ParseFloat(k.Low, 64)
	if err1 != nil || err2 != nil {
		return PriceRange{}, fmt.Errorf("parse kline high/low for %s: %v %v", pair, err1, err2)
	}
	return PriceRange{High: high, Low: low}, nil
}

func intervalForWindow(window time.Duration) string {
	switch {
	case window >= 24*time.Hour:
		return "1d"
	case window >= 4*time.Hour:
		return "4h"
	case window >= time.Hour:
		return "1h"
	default:
		return "15m"
	}
}

// GetTicker 获取24小时滚动行情快照。
func (e *BinanceExchange) GetTicker(ctx context.Context, pair string) (Ticker, error) {
	stats, err := e.client.NewListPriceChangeStatsService().Symbol(symbolFor(pair)).Do(ctx)
	if err != nil {
		return Ticker{}, fmt.Errorf("fetch ticker for %s: %w", pair, err)
	}
	if len(stats) == 0 {
		return Ticker{}, fmt.Errorf("no ticker returned for %s", pair)
	}
	s := stats[0]
	t := Ticker{}
	t.Last, _ = strconv.ParseFloat(s.LastPrice, 64)
	t.High, _ = strconv.ParseFloat(s.HighPrice, 64)
	t.Low, _ = strconv.ParseFloat(s.LowPrice, 64)
	t.Volume, _ = strconv.ParseFloat(s.Volume, 64)
	t.QuoteVolume, _ = strconv.ParseFloat(s.QuoteVolume, 64)
	return t, nil
}

// symbolInfo 获取并缓存交易对的交易规则（价格与数量精度）。
func (e *BinanceExchange) symbolInfo(ctx context.Context, pair string) (*binance.Symbol, error) {
	symbol := symbolFor(pair)

	e.mu.Lock()
	cached, ok := e.symbols[symbol]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	info, err := e.client.NewExchangeInfoService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange info for %s: %w", pair, err)
	}
	for i := range info.Symbols {
		if info.Symbols[i].Symbol == symbol {
			e.mu.Lock()
			e.symbols[symbol] = &info.Symbols[i]
			e.mu.Unlock()
			return &info.Symbols[i], nil
		}
	}
	return nil, fmt.Errorf("symbol %s not found in exchange info", symbol)
}

// PlaceLimitOrder 下限价单。价格和数量会先对齐到交易所的tick/step精度。
func (e *BinanceExchange) PlaceLimitOrder(ctx context.Context, pair string, side models.Side, price, amount float64) (string, error) {
	info, err := e.symbolInfo(ctx, pair)
	if err != nil {
		return "", err
	}

	tickSize, stepSize := "0", "0"
	if f := info.PriceFilter(); f != nil {
		tickSize = f.TickSize
	}
	if f := info.LotSizeFilter(); f != nil {
		stepSize = f.StepSize
	}
	adjPrice := roundDownToStep(price, tickSize)
	adjQty := roundDownToStep(amount, stepSize)

	sideType := binance.SideTypeBuy
	if side == models.Sell {
		sideType = binance.SideTypeSell
	}

	resp, err := e.client.NewCreateOrderService().
		Symbol(symbolFor(pair)).
		Side(sideType).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(adjQty.String()).
		Price(adjPrice.String()).
		NewClientOrderID(newClientOrderID()).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("place %s limit order %s @ %s: %w", side, pair, adjPrice.String(), err)
	}

	e.logger.Infow("placed limit order",
		"pair", pair, "side", side, "price", adjPrice.String(), "amount", adjQty.String(), "orderId", resp.OrderID)
	return strconv.FormatInt(resp.OrderID, 10), nil
}

// CancelOrder 取消订单。
func (e *BinanceExchange) CancelOrder(ctx context.Context, pair, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	if _, err := e.client.NewCancelOrderService().Symbol(symbolFor(pair)).OrderID(id).Do(ctx); err != nil {
		return fmt.Errorf("cancel order %s on %s: %w", orderID, pair, err)
	}
	return nil
}

// GetOrderStatus 查询订单状态并归一化为 resting/filled/canceled。
func (e *BinanceExchange) GetOrderStatus(ctx context.Context, pair, orderID string) (OrderState, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	order, err := e.client.NewGetOrderService().Symbol(symbolFor(pair)).OrderID(id).Do(ctx)
	if err != nil {
		return "", fmt.Errorf("get order %s on %s: %w", orderID, pair, err)
	}

	switch order.Status {
	case binance.OrderStatusTypeFilled:
		return OrderStateFilled, nil
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired, binance.OrderStatusTypeRejected:
		return OrderStateCanceled, nil
	default:
		// NEW and PARTIALLY_FILLED both count as still resting.
		return OrderStateResting, nil
	}
}

// GetBalances 获取账户中所有非零资产余额。
func (e *BinanceExchange) GetBalances(ctx context.Context) ([]models.Balance, error) {
	acc, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}

	var balances []models.Balance
	for _, b := range acc.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, models.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return balances, nil
}
