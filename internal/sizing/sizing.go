// Package sizing 实现风险预算约束下的仓位计算。
//
// 合同：valid 的结果必须满足 实际风险 <= 权益 × 风险比例，严格比较、
// 无任何容差。内部全程使用 decimal 运算，避免 float64 截断比较引入
// 假阳性/假阴性。
package sizing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"minfx/internal/config"
)

// ErrViolation：按算法构造不可能触发的风险超限。一旦出现即为缺陷，
// 必须让调用方硬失败，而不是吞掉。
var ErrViolation = errors.New("sizing: realized risk exceeds budget after step-down")

// Result 是仓位计算结果。Units 恒为 lot step 的整数倍；
// Valid=false 时 Units=0，表示该信号应跳过。
type Result struct {
	Units   int64   `json:"units"`
	RiskJPY float64 `json:"risk_jpy"`
	Valid   bool    `json:"valid"`
}

// Size 计算风险受限的仓位。
//
// 算法（顺序不可调整）：
//  1. 理论数量 = 权益 × 风险比例 / |entry - stop|
//  2. 向零截断到 lot step 的整数倍；不足最小手数则无效
//  3. 复算截断后的实际风险，超预算则恰好下调一个 lot step 再复算
//  4. 下调一次后仍超预算、或数量跌破最小手数，返回无效
//
// 由截断构造，步骤 3 至多触发一次；这里仍按有界循环防御性编码，
// 第三次超限直接返回 ErrViolation。
func Size(equity, entry, stop, riskFraction float64, tu config.TradeUnit, symbol string) (Result, error) {
	if equity <= 0 || riskFraction <= 0 {
		return Result{}, nil
	}
	dist := decimal.NewFromFloat(entry).Sub(decimal.NewFromFloat(stop)).Abs()
	if dist.IsZero() || dist.IsNegative() {
		return Result{}, nil
	}
	budget := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(riskFraction))

	lotSize := decimal.NewFromInt(tu.LotSizeFor(symbol))
	step := decimal.NewFromFloat(tu.LotStep).Mul(lotSize)
	minUnits := decimal.NewFromFloat(tu.MinLot).Mul(lotSize)
	if step.IsZero() || step.IsNegative() {
		return Result{}, fmt.Errorf("sizing: invalid lot step for %s", symbol)
	}

	raw := budget.Div(dist)
	units := raw.Div(step).Floor().Mul(step)
	if units.LessThan(minUnits) {
		return Result{}, nil
	}

	risk := units.Mul(dist)
	if risk.GreaterThan(budget) {
		// 恰好下调一个 lot step，再复算一次。
		units = units.Sub(step)
		if units.LessThan(minUnits) {
			return Result{}, nil
		}
		risk = units.Mul(dist)
		if risk.GreaterThan(budget) {
			return Result{}, nil
		}
	}

	// 返回 valid 前的最终断言：到这里风险仍超限只可能是实现缺陷。
	if risk.GreaterThan(budget) {
		return Result{}, fmt.Errorf("%w: units=%s risk=%s budget=%s",
			ErrViolation, units.String(), risk.String(), budget.String())
	}

	return Result{
		Units:   units.IntPart(),
		RiskJPY: risk.InexactFloat64(),
		Valid:   true,
	}, nil
}

// UnitsToLots 把货币单位换算为手数。
func UnitsToLots(units int64, tu config.TradeUnit, symbol string) float64 {
	lot := tu.LotSizeFor(symbol)
	if lot <= 0 {
		return 0
	}
	return float64(units) / float64(lot)
}
