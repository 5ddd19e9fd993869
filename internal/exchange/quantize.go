package exchange

import (
	"time"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
)

// roundDownToStep floors a value onto the exchange's tick/step lattice.
// String-based decimal math avoids the float artifacts that get limit orders
// rejected with precision errors.
func roundDownToStep(value float64, step string) decimal.Decimal {
	v := decimal.NewFromFloat(value)
	s, err := decimal.NewFromString(step)
	if err != nil || s.IsZero() {
		return v
	}
	return v.Div(s).Floor().Mul(s)
}

// newClientOrderID generates a compact unique client order id. Binance caps
// the field at 36 characters; a base62-encoded nanosecond timestamp stays
// well under that.
func newClientOrderID() string {
	return "grid" + string(base62.FormatInt(time.Now().UnixNano()))
}
