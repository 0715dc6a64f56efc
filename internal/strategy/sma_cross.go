package strategy

import (
	"math"

	"finsim/internal/indicator"
	"finsim/internal/market"
)

// 买入时预留的现金比例，覆盖手续费与滑点，避免整单因差几块钱被拒。
const cashBuffer = 0.995

// SMACross 是快慢均线交叉策略：快线上穿慢线买入，下穿清仓。
// 多标的时把可用现金平均分配给当日出现买入信号的标的。
type SMACross struct {
	symbols []string
	rules   market.Rules
	calc    *indicator.Calculator
}

// NewSMACross 创建均线交叉策略。
func NewSMACross(symbols []string, rules market.Rules, params indicator.Params) *SMACross {
	return &SMACross{
		symbols: symbols,
		rules:   rules,
		calc:    indicator.NewCalculator(params),
	}
}

// Name 返回策略名。
func (s *SMACross) Name() string {
	return "sma_cross"
}

// Symbols 返回策略关注的标的。
func (s *SMACross) Symbols() []string {
	return s.symbols
}

// OnDay 依据当日截面产出订单。
func (s *SMACross) OnDay(view *View, acct Snapshot) []Order {
	var (
		orders  []Order
		buyable []string
	)

	for _, symbol := range s.symbols {
		history := view.History(symbol)
		if len(history) == 0 {
			continue
		}

		result, err := s.calc.Compute(symbol, history)
		if err != nil {
			continue
		}
		if !crossReady(result.SMA) {
			continue
		}

		pos, held := acct.Position(symbol)

		switch {
		case result.SMA.PrevFast <= result.SMA.PrevSlow && result.SMA.Fast > result.SMA.Slow:
			if !held || pos.Quantity == 0 {
				buyable = append(buyable, symbol)
			}
		case result.SMA.PrevFast >= result.SMA.PrevSlow && result.SMA.Fast < result.SMA.Slow:
			if held && pos.Sellable > 0 {
				orders = append(orders, Order{
					Symbol:   symbol,
					Side:     SideSell,
					Quantity: pos.Sellable,
					Issued:   view.Today(),
				})
			}
		}
	}

	if len(buyable) == 0 {
		return orders
	}

	budget := acct.Cash * cashBuffer / float64(len(buyable))
	for _, symbol := range buyable {
		close, ok := view.Close(symbol)
		if !ok || close <= 0 {
			continue
		}
		qty := FloorToLot(budget/close, s.rules.LotSize)
		if qty <= 0 {
			continue
		}
		orders = append(orders, Order{
			Symbol:   symbol,
			Side:     SideBuy,
			Quantity: qty,
			Issued:   view.Today(),
		})
	}

	return orders
}

// crossReady 判断两条均线当前值与前值是否都已有效。
// talib 在暖机期内输出0，价格序列恒为正，零值即未就绪。
func crossReady(sma indicator.SMAResult) bool {
	for _, v := range []float64{sma.Fast, sma.Slow, sma.PrevFast, sma.PrevSlow} {
		if v <= 0 || math.IsNaN(v) {
			return false
		}
	}
	return true
}
