package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"grid-trading-bot-go/internal/exchange"

	"go.uber.org/zap"
)

// Manager errors.
var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrDuplicateAlert    = errors.New("an identical alert already exists")
	ErrInvalidAlert      = errors.New("invalid alert parameters")
	ErrTickerUnavailable = errors.New("ticker unavailable")
)

// PriceSource is an optional cache of live trade prices. When it has a price
// for a pair the check loop uses it instead of a REST ticker call.
type PriceSource interface {
	LastPrice(pair string) (float64, bool)
}

// Manager owns the alert list: arming, persistence, the periodic checks, and
// dispatch to the notifier. Alerts survive restarts via a JSON file that is
// rewritten atomically on every mutation.
type Manager struct {
	path     string
	tickers  exchange.TickerSource
	feed     PriceSource // may be nil
	notifier Notifier
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	alerts  []*Alert
	history []Notification
	nextID  int
}

// NewManager loads any persisted alerts from path. A missing or unreadable
// file starts the manager empty rather than failing.
func NewManager(path string, tickers exchange.TickerSource, feed PriceSource, notifier Notifier, logger *zap.SugaredLogger) *Manager {
	m := &Manager{
		path:     path,
		tickers:  tickers,
		feed:     feed,
		notifier: notifier,
		logger:   logger,
		nextID:   1,
	}
	m.load()
	return m
}

// AddPriceAlert arms a price alert. Duplicate un-triggered alerts on the same
// pair, condition and target are rejected.
func (m *Manager) AddPriceAlert(ctx context.Context, pair string, targetPrice float64, cond PriceCondition) (*Alert, error) {
	pair = strings.ToLower(strings.TrimSpace(pair))
	if pair == "" || targetPrice <= 0 {
		return nil, fmt.Errorf("%w: pair=%q targetPrice=%f", ErrInvalidAlert, pair, targetPrice)
	}
	switch cond {
	case Above, Below, Cross:
	default:
		return nil, fmt.Errorf("%w: condition must be above/below/cross, got %q", ErrInvalidAlert, cond)
	}

	// Seed the last observation so a cross alert does not fire on its very
	// first check.
	lastPrice, _ := m.currentPrice(ctx, pair)

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.alerts {
		if existing.Kind == KindPrice && !existing.Triggered &&
			existing.Pair == pair && existing.Condition == cond && existing.TargetPrice == targetPrice {
			return nil, ErrDuplicateAlert
		}
	}

	a := &Alert{
		ID:          m.nextID,
		Pair:        pair,
		Kind:        KindPrice,
		Condition:   cond,
		TargetPrice: targetPrice,
		LastPrice:   lastPrice,
		Enabled:     true,
		CreatedAt:   time.Now(),
	}
	m.nextID++
	m.alerts = append(m.alerts, a)
	m.saveLocked()

	m.logger.Infow("price alert armed", "pair", pair, "condition", cond, "target", targetPrice)
	return cloneAlert(a), nil
}

// AddVolumeAlert arms a volume alert: fires when the estimated quote volume
// over the window exceeds the threshold. The estimate scales the 24h quote
// volume down to the window.
func (m *Manager) AddVolumeAlert(pair string, threshold float64, windowMinutes int) (*Alert, error) {
	pair = strings.ToLower(strings.TrimSpace(pair))
	if pair == "" || threshold <= 0 || windowMinutes <= 0 {
		return nil, fmt.Errorf("%w: pair=%q threshold=%f window=%d", ErrInvalidAlert, pair, threshold, windowMinutes)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a := &Alert{
		ID:            m.nextID,
		Pair:          pair,
		Kind:          KindVolume,
		Threshold:     threshold,
		WindowMinutes: windowMinutes,
		Enabled:       true,
		CreatedAt:     time.Now(),
	}
	m.nextID++
	m.alerts = append(m.alerts, a)
	m.saveLocked()

	m.logger.Infow("volume alert armed", "pair", pair, "threshold", threshold, "windowMinutes", windowMinutes)
	return cloneAlert(a), nil
}

// AddChangeAlert arms a percent-change alert relative to the price at arming
// time. A positive percent watches for a rise, negative for a drop.
func (m *Manager) AddChangeAlert(ctx context.Context, pair string, changePercent float64, windowMinutes int) (*Alert, error) {
	pair = strings.ToLower(strings.TrimSpace(pair))
	if pair == "" || changePercent == 0 || windowMinutes <= 0 {
		return nil, fmt.Errorf("%w: pair=%q changePercent=%f window=%d", ErrInvalidAlert, pair, changePercent, windowMinutes)
	}

	ref, err := m.currentPrice(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTickerUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a := &Alert{
		ID:             m.nextID,
		Pair:           pair,
		Kind:           KindChange,
		ChangePercent:  changePercent,
		ReferencePrice: ref,
		WindowMinutes:  windowMinutes,
		Enabled:        true,
		CreatedAt:      time.Now(),
	}
	m.nextID++
	m.alerts = append(m.alerts, a)
	m.saveLocked()

	m.logger.Infow("change alert armed", "pair", pair, "changePercent", changePercent, "reference", ref)
	return cloneAlert(a), nil
}

// ActiveAlerts returns the armed, un-triggered alerts sorted by ID.
func (m *Manager) ActiveAlerts() []*Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Alert
	for _, a := range m.alerts {
		if a.Enabled && !a.Triggered {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveAlert deletes an alert by ID.
func (m *Manager) RemoveAlert(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, a := range m.alerts {
		if a.ID == id {
			m.alerts = append(m.alerts[:i], m.alerts[i+1:]...)
			m.saveLocked()
			m.logger.Infow("alert removed", "id", id)
			return nil
		}
	}
	return ErrAlertNotFound
}

// ClearTriggered drops alerts that have already fired and returns how many
// were removed.
func (m *Manager) ClearTriggered() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.alerts[:0]
	removed := 0
	for _, a := range m.alerts {
		if a.Triggered {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
	if removed > 0 {
		m.saveLocked()
		m.logger.Infow("cleared triggered alerts", "removed", removed)
	}
	return removed
}

// History returns the most recent notifications, newest first.
func (m *Manager) History(limit int) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Notification, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.history[n-1-i]
	}
	return out
}

// CheckAll evaluates every armed alert against current market data. Failures
// for one pair skip that pair's alerts and never abort the sweep.
func (m *Manager) CheckAll(ctx context.Context) {
	m.mu.Lock()
	pending := make([]*Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if a.Enabled && !a.Triggered {
			pending = append(pending, a)
		}
	}
	m.mu.Unlock()

	prices := make(map[string]float64)
	tickers := make(map[string]exchange.Ticker)

	for _, a := range pending {
		switch a.Kind {
		case KindPrice, KindChange:
			if _, ok := prices[a.Pair]; ok {
				continue
			}
			price, err := m.currentPrice(ctx, a.Pair)
			if err != nil {
				m.logger.Warnw("alert check skipped, price unavailable", "pair", a.Pair, "err", err)
				continue
			}
			prices[a.Pair] = price
		case KindVolume:
			if _, ok := tickers[a.Pair]; ok {
				continue
			}
			ticker, err := m.tickers.GetTicker(ctx, a.Pair)
			if err != nil {
				m.logger.Warnw("alert check skipped, ticker unavailable", "pair", a.Pair, "err", err)
				continue
			}
			tickers[a.Pair] = ticker
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dirty := false
	for _, a := range pending {
		switch a.Kind {
		case KindPrice:
			price, ok := prices[a.Pair]
			if !ok {
				continue
			}
			if msg, fired := evalPriceAlert(a, price); fired {
				m.fireLocked(a, msg)
			}
			dirty = true // LastPrice advances even without a trigger

		case KindVolume:
			ticker, ok := tickers[a.Pair]
			if !ok {
				continue
			}
			estimated := ticker.QuoteVolume * float64(a.WindowMinutes) / (24 * 60)
			if estimated > a.Threshold {
				msg := fmt.Sprintf("volume alert: %s estimated %dmin volume %.2f USDT exceeds %.2f",
					a.Pair, a.WindowMinutes, estimated, a.Threshold)
				m.fireLocked(a, msg)
				dirty = true
			}

		case KindChange:
			price, ok := prices[a.Pair]
			if !ok || a.ReferencePrice <= 0 {
				continue
			}
			pct := (price - a.ReferencePrice) / a.ReferencePrice * 100
			fired := (a.ChangePercent > 0 && pct >= a.ChangePercent) ||
				(a.ChangePercent < 0 && pct <= a.ChangePercent)
			if fired {
				msg := fmt.Sprintf("change alert: %s moved %.2f%% from %.4f to %.4f",
					a.Pair, pct, a.ReferencePrice, price)
				m.fireLocked(a, msg)
				dirty = true
			}
		}
	}

	if dirty {
		m.saveLocked()
	}
}

// evalPriceAlert checks one price alert and updates its last observation.
func evalPriceAlert(a *Alert, price float64) (string, bool) {
	defer func() { a.LastPrice = price }()

	switch a.Condition {
	case Above:
		if price >= a.TargetPrice {
			return fmt.Sprintf("price alert: %s broke above %.4f, now %.4f", a.Pair, a.TargetPrice, price), true
		}
	case Below:
		if price <= a.TargetPrice {
			return fmt.Sprintf("price alert: %s fell below %.4f, now %.4f", a.Pair, a.TargetPrice, price), true
		}
	case Cross:
		if a.LastPrice > 0 {
			crossedUp := a.LastPrice < a.TargetPrice && price >= a.TargetPrice
			crossedDown := a.LastPrice > a.TargetPrice && price <= a.TargetPrice
			if crossedUp || crossedDown {
				direction := "up through"
				if crossedDown {
					direction = "down through"
				}
				return fmt.Sprintf("price alert: %s crossed %s %.4f, now %.4f", a.Pair, direction, a.TargetPrice, price), true
			}
		}
	}
	return "", false
}

// fireLocked marks the alert triggered and dispatches the notification.
// Caller holds m.mu.
func (m *Manager) fireLocked(a *Alert, message string) {
	now := time.Now()
	a.Triggered = true
	a.TriggeredAt = &now
	a.TriggerCount++

	n := Notification{
		AlertID: a.ID,
		Kind:    a.Kind,
		Pair:    a.Pair,
		Message: message,
		Time:    now,
	}
	m.history = append(m.history, n)
	m.logger.Infow("alert triggered", "id", a.ID, "pair", a.Pair, "kind", a.Kind)

	if m.notifier != nil {
		m.notifier.Notify(n)
	}
}

// currentPrice prefers the live feed cache, falling back to a REST ticker.
func (m *Manager) currentPrice(ctx context.Context, pair string) (float64, error) {
	if m.feed != nil {
		if price, ok := m.feed.LastPrice(pair); ok {
			return price, nil
		}
	}
	if m.tickers == nil {
		return 0, ErrTickerUnavailable
	}
	ticker, err := m.tickers.GetTicker(ctx, pair)
	if err != nil {
		return 0, err
	}
	return ticker.Last, nil
}

// saveLocked rewrites the alert file atomically. Caller holds m.mu.
func (m *Manager) saveLocked() {
	if m.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		m.logger.Errorw("failed to create alert directory", "err", err)
		return
	}

	data, err := json.MarshalIndent(m.alerts, "", "  ")
	if err != nil {
		m.logger.Errorw("failed to encode alerts", "err", err)
		return
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		m.logger.Errorw("failed to write alert file", "err", err)
		return
	}
	if err := os.Rename(tmp, m.path); err != nil {
		m.logger.Errorw("failed to replace alert file", "err", err)
	}
}

// load reads the persisted alerts; any failure starts empty.
func (m *Manager) load() {
	if m.path == "" {
		return
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warnw("failed to read alert file, starting empty", "path", m.path, "err", err)
		}
		return
	}
	if err := json.Unmarshal(data, &m.alerts); err != nil {
		m.logger.Warnw("alert file corrupt, starting empty", "path", m.path, "err", err)
		m.alerts = nil
		return
	}
	for _, a := range m.alerts {
		if a.ID >= m.nextID {
			m.nextID = a.ID + 1
		}
	}
	m.logger.Infow("alerts loaded", "count", len(m.alerts))
}

func cloneAlert(a *Alert) *Alert {
	c := *a
	if a.TriggeredAt != nil {
		t := *a.TriggeredAt
		c.TriggeredAt = &t
	}
	return &c
}
