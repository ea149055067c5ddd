package risk

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// MaxPositionRule fails orders whose quantity exceeds a fixed ceiling.
type MaxPositionRule struct {
	MaxAmount int64
	OnFail    Action
}

// Title implements Rule.
func (r MaxPositionRule) Title() string { return "max-position" }

// Action implements Rule.
func (r MaxPositionRule) Action() Action { return r.OnFail }

// Check implements Rule.
func (r MaxPositionRule) Check(_ context.Context, msg Message) bool {
	if msg.Kind != KindOrder || msg.Order == nil || r.MaxAmount <= 0 {
		return true
	}
	return msg.Order.Amount <= r.MaxAmount
}

// MaxNotionalRule fails orders whose price*amount exceeds a value ceiling.
type MaxNotionalRule struct {
	MaxNotional decimal.Decimal
	OnFail      Action
}

// Title implements Rule.
func (r MaxNotionalRule) Title() string { return "max-notional" }

// Action implements Rule.
func (r MaxNotionalRule) Action() Action { return r.OnFail }

// Check implements Rule.
func (r MaxNotionalRule) Check(_ context.Context, msg Message) bool {
	if msg.Kind != KindOrder || msg.Order == nil || !r.MaxNotional.IsPositive() {
		return true
	}
	return msg.Order.Notional().LessThanOrEqual(r.MaxNotional)
}

// ThrottleRule fails orders arriving faster than the configured rate. The
// check never blocks the actor; a token miss is an immediate failure.
type ThrottleRule struct {
	limiter *rate.Limiter
	onFail  Action
}

// NewThrottleRule builds a throttle allowing ordersPerSec with burst capacity.
func NewThrottleRule(ordersPerSec float64, burst int, onFail Action) *ThrottleRule {
	if burst <= 0 {
		burst = 1
	}
	return &ThrottleRule{
		limiter: rate.NewLimiter(rate.Limit(ordersPerSec), burst),
		onFail:  onFail,
	}
}

// Title implements Rule.
func (r *ThrottleRule) Title() string { return "order-throttle" }

// Action implements Rule.
func (r *ThrottleRule) Action() Action { return r.onFail }

// Check implements Rule.
func (r *ThrottleRule) Check(_ context.Context, msg Message) bool {
	if msg.Kind != KindOrder || r.limiter == nil {
		return true
	}
	return r.limiter.Allow()
}
