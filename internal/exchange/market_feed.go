package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	feedPongWait      = 60 * time.Second
	feedPingPeriod    = (feedPongWait * 9) / 10
	feedReconnectWait = 5 * time.Second
)

// MarketFeed maintains one aggTrade WebSocket subscription per watched pair
// and caches the last traded price. The alert monitor reads from this cache
// instead of hitting the REST API on every check.
type MarketFeed struct {
	wsBaseURL string
	logger    *zap.SugaredLogger

	mu      sync.RWMutex
	prices  map[string]float64
	watched map[string]chan struct{}
	stopped bool
}

// NewMarketFeed 创建行情订阅器。wsBaseURL 例如 "wss://stream.binance.com:9443"。
func NewMarketFeed(wsBaseURL string, logger *zap.SugaredLogger) *MarketFeed {
	return &MarketFeed{
		wsBaseURL: wsBaseURL,
		logger:    logger,
		prices:    make(map[string]float64),
		watched:   make(map[string]chan struct{}),
	}
}

// Watch starts a subscription loop for the pair. Watching the same pair
// twice is a no-op.
func (f *MarketFeed) Watch(pair string) {
	pair = strings.ToLower(strings.TrimSpace(pair))
	if pair == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	if _, ok := f.watched[pair]; ok {
		return
	}
	stop := make(chan struct{})
	f.watched[pair] = stop
	go f.subscribeLoop(pair, stop)
}

// LastPrice returns the cached last traded price, if any trade has been seen.
func (f *MarketFeed) LastPrice(pair string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[strings.ToLower(pair)]
	return p, ok
}

// Stop tears down all subscriptions.
func (f *MarketFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	for _, stop := range f.watched {
		close(stop)
	}
}

// subscribeLoop is a daemon that keeps the pair's connection alive,
// reconnecting with a fixed delay after any failure.
func (f *MarketFeed) subscribeLoop(pair string, stop chan struct{}) {
	wsURL := fmt.Sprintf("%s/ws/%s@aggTrade", f.wsBaseURL, pair)
	for {
		select {
		case <-stop:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			f.logger.Warnw("market feed dial failed", "pair", pair, "err", err)
			if !sleepOrStop(feedReconnectWait, stop) {
				return
			}
			continue
		}

		if err := f.readMessages(pair, conn, stop); err != nil {
			f.logger.Warnw("market feed disconnected", "pair", pair, "err", err)
		}
		conn.Close()

		if !sleepOrStop(feedReconnectWait, stop) {
			return
		}
	}
}

// readMessages blocks on an established connection, updating the price cache
// and keeping the connection alive with ping/pong.
func (f *MarketFeed) readMessages(pair string, conn *websocket.Conn, stop chan struct{}) error {
	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(feedPongWait))
		return nil
	})

	pingTicker := time.NewTicker(feedPingPeriod)
	pingDone := make(chan struct{})
	defer pingTicker.Stop()
	defer close(pingDone)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-stop:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		default:
			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			var trade struct {
				Price json.Number `json:"p"`
			}
			if err := json.Unmarshal(message, &trade); err != nil {
				continue
			}
			price, err := trade.Price.Float64()
			if err != nil || price <= 0 {
				continue
			}

			f.mu.Lock()
			f.prices[pair] = price
			f.mu.Unlock()
		}
	}
}

func sleepOrStop(d time.Duration, stop chan struct{}) bool {
	select {
	case <-time.After(d):
		return true
	case <-stop:
		return false
	}
}
