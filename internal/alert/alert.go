package alert

import (
	"fmt"
	"time"
)

// Kind 预警类型。
type Kind string

const (
	KindPrice  Kind = "price"
	KindVolume Kind = "volume"
	KindChange Kind = "change"
	KindDrift  Kind = "drift" // grid range drift, produced by the engine sweep
)

// PriceCondition 价格预警的触发条件。
type PriceCondition string

const (
	Above PriceCondition = "above"
	Below PriceCondition = "below"
	Cross PriceCondition = "cross"
)

// Alert is one armed alert. A triggered alert stays in the list (visible in
// history and cleanable) but never fires again.
type Alert struct {
	ID   int    `json:"id"`
	Pair string `json:"pair"`
	Kind Kind   `json:"kind"`

	// Price alerts.
	Condition   PriceCondition `json:"condition,omitempty"`
	TargetPrice float64        `json:"targetPrice,omitempty"`
	LastPrice   float64        `json:"lastPrice,omitempty"` // previous observation, for cross detection

	// Volume alerts: estimated quote volume over the window.
	Threshold     float64 `json:"threshold,omitempty"`
	WindowMinutes int     `json:"windowMinutes,omitempty"`

	// Change alerts: percent move from the reference price.
	ChangePercent  float64 `json:"changePercent,omitempty"`
	ReferencePrice float64 `json:"referencePrice,omitempty"`

	Enabled      bool       `json:"enabled"`
	Triggered    bool       `json:"triggered"`
	TriggerCount int        `json:"triggerCount"`
	CreatedAt    time.Time  `json:"createdAt"`
	TriggeredAt  *time.Time `json:"triggeredAt,omitempty"`
}

// Describe renders a short human-readable summary for status listings.
func (a *Alert) Describe() string {
	switch a.Kind {
	case KindPrice:
		return fmt.Sprintf("%s %s %.4f", a.Pair, a.Condition, a.TargetPrice)
	case KindVolume:
		return fmt.Sprintf("%s volume > %.2f USDT (%dmin)", a.Pair, a.Threshold, a.WindowMinutes)
	case KindChange:
		direction := "up"
		if a.ChangePercent < 0 {
			direction = "down"
		}
		return fmt.Sprintf("%s %s %.2f%% (%dmin)", a.Pair, direction, abs(a.ChangePercent), a.WindowMinutes)
	}
	return fmt.Sprintf("%s %s", a.Pair, a.Kind)
}

// Notification is what gets pushed out when an alert fires.
type Notification struct {
	AlertID int       `json:"alertId"`
	Kind    Kind      `json:"kind"`
	Pair    string    `json:"pair"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifier receives fired alerts. Implementations must not block for long;
// the check loop calls them inline.
type Notifier interface {
	Notify(n Notification)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
