package reporter

import (
	"fmt"
	"io"
	"time"

	"grid-trading-bot-go/internal/alert"
	"grid-trading-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Reporter renders operator-facing tables for grids, balances and alerts.
type Reporter struct {
	out io.Writer
}

// NewReporter writes tables to out, typically os.Stdout.
func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

func (r *Reporter) newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetTitle(title)
	t.SetStyle(table.StyleLight)
	return t
}

// GridStatuses renders one row per grid, active and stopped.
func (r *Reporter) GridStatuses(statuses []models.GridStatus) {
	t := r.newTable("网格状态")
	t.AppendHeader(table.Row{"Pair", "State", "Grids", "Range", "Trades", "Profit (USDT)", "Open Orders", "Last Update"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Profit (USDT)", Align: text.AlignRight},
		{Name: "Trades", Align: text.AlignRight},
		{Name: "Open Orders", Align: text.AlignRight},
	})

	for _, s := range statuses {
		state := "stopped"
		if s.Active {
			state = "active"
		}
		t.AppendRow(table.Row{
			s.Pair,
			state,
			s.GridCount,
			fmt.Sprintf("%.4f - %.4f", s.PriceLower, s.PriceUpper),
			s.CompletedTrades,
			fmt.Sprintf("%.4f", s.TotalProfit),
			s.ActiveOrders,
			s.LastUpdateAt.Format("2006-01-02 15:04:05"),
		})
	}
	if len(statuses) == 0 {
		t.AppendRow(table.Row{"(no grids)"})
	}
	t.Render()
}

// Balances renders the non-zero account balances.
func (r *Reporter) Balances(balances []models.Balance) {
	t := r.newTable("账户余额")
	t.AppendHeader(table.Row{"Asset", "Free", "Locked"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Free", Align: text.AlignRight},
		{Name: "Locked", Align: text.AlignRight},
	})

	for _, b := range balances {
		t.AppendRow(table.Row{b.Asset, fmt.Sprintf("%.8f", b.Free), fmt.Sprintf("%.8f", b.Locked)})
	}
	if len(balances) == 0 {
		t.AppendRow(table.Row{"(no balances)"})
	}
	t.Render()
}

// Alerts renders the armed alerts.
func (r *Reporter) Alerts(alerts []*alert.Alert) {
	t := r.newTable("预警列表")
	t.AppendHeader(table.Row{"ID", "Pair", "Kind", "Condition", "Created"})

	for _, a := range alerts {
		t.AppendRow(table.Row{a.ID, a.Pair, a.Kind, a.Describe(), a.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	if len(alerts) == 0 {
		t.AppendRow(table.Row{"(no alerts)"})
	}
	t.Render()
}

// AlertHistory renders recent notifications, newest first.
func (r *Reporter) AlertHistory(history []alert.Notification) {
	t := r.newTable("预警历史")
	t.AppendHeader(table.Row{"Time", "Pair", "Kind", "Message"})

	for _, n := range history {
		t.AppendRow(table.Row{n.Time.Format(time.RFC3339), n.Pair, n.Kind, n.Message})
	}
	if len(history) == 0 {
		t.AppendRow(table.Row{"(empty)"})
	}
	t.Render()
}
