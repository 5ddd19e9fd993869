package reporter

import (
	"bytes"
	"testing"
	"time"

	"grid-trading-bot-go/internal/alert"
	"grid-trading-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestGridStatusesTable(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)

	r.GridStatuses([]models.GridStatus{
		{
			Pair: "btcusdt", Active: true, GridCount: 10,
			PriceLower: 30000, PriceUpper: 40000,
			CompletedTrades: 3, TotalProfit: 1.23, ActiveOrders: 10,
			LastUpdateAt: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC),
		},
		{Pair: "ethusdt", Active: false, GridCount: 5, PriceLower: 2000, PriceUpper: 3000},
	})

	out := buf.String()
	assert.Contains(t, out, "btcusdt")
	assert.Contains(t, out, "active")
	assert.Contains(t, out, "stopped")
	assert.Contains(t, out, "30000.0000 - 40000.0000")
}

func TestEmptyTables(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)

	r.GridStatuses(nil)
	r.Balances(nil)
	r.Alerts(nil)
	r.AlertHistory(nil)

	out := buf.String()
	assert.Contains(t, out, "(no grids)")
	assert.Contains(t, out, "(no balances)")
	assert.Contains(t, out, "(no alerts)")
	assert.Contains(t, out, "(empty)")
}

func TestAlertsTable(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)

	r.Alerts([]*alert.Alert{
		{ID: 1, Pair: "btcusdt", Kind: alert.KindPrice, Condition: alert.Above, TargetPrice: 40000, CreatedAt: time.Now()},
	})

	assert.Contains(t, buf.String(), "btcusdt above 40000.0000")
}
