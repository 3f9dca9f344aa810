// Package risk gates every proposed trade against the user's portfolio
// ceilings. Checks run in a fixed order and the first violated ceiling
// names the rejection.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"wheelhouse/internal/logger"
	"wheelhouse/internal/types"
)

// Decision is the outcome of validating one order.
type Decision struct {
	Approved bool
	Check    string // name of the first violated check, empty when approved
	Reason   string // human-readable detail
}

func approve() Decision { return Decision{Approved: true} }

func reject(check, format string, args ...interface{}) Decision {
	return Decision{Check: check, Reason: fmt.Sprintf(format, args...)}
}

// Validator applies per-user RiskLimits to proposed orders against a
// portfolio snapshot taken at cycle start.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// contractMultiplier converts per-share premium to contract dollars.
var contractMultiplier = decimal.NewFromInt(100)

// orderCost returns the capital the order commits, in dollars.
func orderCost(o *types.TradeOrder) decimal.Decimal {
	price := o.LimitPrice
	if price <= 0 {
		price = o.Contract.Mid()
	}
	return decimal.NewFromFloat(price).
		Mul(decimal.NewFromInt(int64(o.Quantity))).
		Mul(contractMultiplier)
}

// Validate checks one order against the limits. Closing orders reduce
// exposure and are approved without ceiling checks, so a breached portfolio
// can always be unwound.
func (v *Validator) Validate(order *types.TradeOrder, snap *types.PortfolioSnapshot, limits types.RiskLimits) Decision {
	if order.Intent == types.IntentClose {
		return approve()
	}
	if order.Quantity <= 0 {
		return reject("quantity", "order quantity must be positive, got %d", order.Quantity)
	}

	cost := orderCost(order)
	equity := decimal.NewFromFloat(snap.Equity)

	if d := v.checkBuyingPower(cost, snap); !d.Approved {
		return d
	}
	if d := v.checkPositionSize(cost, equity, limits); !d.Approved {
		return d
	}
	if d := v.checkExposure(cost, equity, snap, limits); !d.Approved {
		return d
	}
	if d := v.checkGreeks(order, snap, limits); !d.Approved {
		return d
	}
	if d := v.checkOpenPositions(snap, limits); !d.Approved {
		return d
	}
	if d := v.checkDailyLoss(snap, limits); !d.Approved {
		return d
	}
	return approve()
}

func (v *Validator) checkBuyingPower(cost decimal.Decimal, snap *types.PortfolioSnapshot) Decision {
	bp := decimal.NewFromFloat(snap.BuyingPower)
	if cost.GreaterThan(bp) {
		return reject("buying_power", "order cost $%s exceeds buying power $%s", cost.StringFixed(2), bp.StringFixed(2))
	}
	return approve()
}

func (v *Validator) checkPositionSize(cost, equity decimal.Decimal, limits types.RiskLimits) Decision {
	if limits.MaxPositionSizePct <= 0 || equity.LessThanOrEqual(decimal.Zero) {
		return approve()
	}
	ceiling := equity.Mul(decimal.NewFromFloat(limits.MaxPositionSizePct)).Div(decimal.NewFromInt(100))
	if cost.GreaterThan(ceiling) {
		return reject("position_size", "order cost $%s exceeds %.1f%% of equity ($%s)",
			cost.StringFixed(2), limits.MaxPositionSizePct, ceiling.StringFixed(2))
	}
	return approve()
}

func (v *Validator) checkExposure(cost, equity decimal.Decimal, snap *types.PortfolioSnapshot, limits types.RiskLimits) Decision {
	if limits.MaxPortfolioExposurePct <= 0 || equity.LessThanOrEqual(decimal.Zero) {
		return approve()
	}
	atRisk := decimal.NewFromFloat(snap.CapitalAtRisk()).Add(cost)
	ceiling := equity.Mul(decimal.NewFromFloat(limits.MaxPortfolioExposurePct)).Div(decimal.NewFromInt(100))
	if atRisk.GreaterThan(ceiling) {
		return reject("portfolio_exposure", "capital at risk $%s would exceed %.1f%% of equity ($%s)",
			atRisk.StringFixed(2), limits.MaxPortfolioExposurePct, ceiling.StringFixed(2))
	}
	return approve()
}

// checkGreeks projects the portfolio greeks with the new contracts added and
// compares against absolute ceilings. Theta ceiling bounds daily decay, so it
// applies to the magnitude of negative theta.
func (v *Validator) checkGreeks(order *types.TradeOrder, snap *types.PortfolioSnapshot, limits types.RiskLimits) Decision {
	qty := float64(order.Quantity)
	delta := snap.Greeks.Delta + order.Contract.Greeks.Delta*qty*100
	theta := snap.Greeks.Theta + order.Contract.Greeks.Theta*qty*100
	vega := snap.Greeks.Vega + order.Contract.Greeks.Vega*qty*100

	if limits.MaxPortfolioDelta > 0 && abs(delta) > limits.MaxPortfolioDelta {
		return reject("portfolio_delta", "projected delta %.1f exceeds ceiling %.1f", delta, limits.MaxPortfolioDelta)
	}
	if limits.MaxPortfolioTheta > 0 && theta < 0 && -theta > limits.MaxPortfolioTheta {
		return reject("portfolio_theta", "projected theta %.1f exceeds decay ceiling %.1f", theta, limits.MaxPortfolioTheta)
	}
	if limits.MaxPortfolioVega > 0 && abs(vega) > limits.MaxPortfolioVega {
		return reject("portfolio_vega", "projected vega %.1f exceeds ceiling %.1f", vega, limits.MaxPortfolioVega)
	}
	return approve()
}

func (v *Validator) checkOpenPositions(snap *types.PortfolioSnapshot, limits types.RiskLimits) Decision {
	if limits.MaxOpenPositions <= 0 {
		return approve()
	}
	open := snap.OpenCount(nil)
	if open >= limits.MaxOpenPositions {
		return reject("max_open_positions", "%d positions open, limit is %d", open, limits.MaxOpenPositions)
	}
	return approve()
}

func (v *Validator) checkDailyLoss(snap *types.PortfolioSnapshot, limits types.RiskLimits) Decision {
	if limits.MaxDailyLossPct <= 0 || snap.Equity <= 0 || snap.RealizedToday >= 0 {
		return approve()
	}
	lossPct := -snap.RealizedToday / snap.Equity * 100
	if lossPct >= limits.MaxDailyLossPct {
		logger.Warnf("daily loss ceiling reached for %s: %.2f%% realized", snap.UserID, lossPct)
		return reject("daily_loss", "realized loss %.2f%% of equity reached the %.1f%% daily ceiling",
			lossPct, limits.MaxDailyLossPct)
	}
	return approve()
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
