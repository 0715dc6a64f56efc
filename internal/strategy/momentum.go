package strategy

import (
	"sort"

	"finsim/internal/indicator"
	"finsim/internal/market"
)

// MomentumTopK 是动量轮动策略：按 N 日涨幅给标的排名，持有前 K 名，
// 等权分配。跌出前 K 的持仓清仓，新进入的标的用腾出的现金买入。
type MomentumTopK struct {
	symbols []string
	rules   market.Rules
	topK    int
	calc    *indicator.Calculator
}

// NewMomentumTopK 创建动量轮动策略。
func NewMomentumTopK(symbols []string, rules market.Rules, params indicator.Params, topK int) *MomentumTopK {
	if topK <= 0 {
		topK = 1
	}
	if topK > len(symbols) {
		topK = len(symbols)
	}
	return &MomentumTopK{
		symbols: symbols,
		rules:   rules,
		topK:    topK,
		calc:    indicator.NewCalculator(params),
	}
}

// Name 返回策略名。
func (m *MomentumTopK) Name() string {
	return "momentum_topk"
}

// Symbols 返回策略关注的标的。
func (m *MomentumTopK) Symbols() []string {
	return m.symbols
}

type ranked struct {
	symbol   string
	momentum float64
}

// OnDay 重算排名并产出调仓订单。卖单在前、买单在后：执行引擎按
// 顺序处理时，卖出回笼的现金下一步才可用，买入预算只按当前现金算。
func (m *MomentumTopK) OnDay(view *View, acct Snapshot) []Order {
	rankings := m.rank(view)
	if len(rankings) == 0 {
		return nil
	}

	winners := make(map[string]bool, m.topK)
	for i := 0; i < len(rankings) && i < m.topK; i++ {
		winners[rankings[i].symbol] = true
	}

	var orders []Order

	// 先清掉跌出前K的持仓。
	for _, pos := range acct.Positions {
		if winners[pos.Symbol] || pos.Sellable <= 0 {
			continue
		}
		orders = append(orders, Order{
			Symbol:   pos.Symbol,
			Side:     SideSell,
			Quantity: pos.Sellable,
			Issued:   view.Today(),
		})
	}

	// 再买入尚未持有的新晋标的。
	var missing []string
	for i := 0; i < len(rankings) && i < m.topK; i++ {
		symbol := rankings[i].symbol
		if pos, held := acct.Position(symbol); held && pos.Quantity > 0 {
			continue
		}
		missing = append(missing, symbol)
	}
	if len(missing) == 0 {
		return orders
	}

	budget := acct.Cash * cashBuffer / float64(len(missing))
	for _, symbol := range missing {
		close, ok := view.Close(symbol)
		if !ok || close <= 0 {
			continue
		}
		qty := FloorToLot(budget/close, m.rules.LotSize)
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

// rank 计算各标的的动量并按降序排列，动量未就绪的标的不参与排名。
func (m *MomentumTopK) rank(view *View) []ranked {
	rankings := make([]ranked, 0, len(m.symbols))
	for _, symbol := range m.symbols {
		history := view.History(symbol)
		if len(history) == 0 {
			continue
		}
		result, err := m.calc.Compute(symbol, history)
		if err != nil || result.Momentum == 0 {
			continue
		}
		rankings = append(rankings, ranked{symbol: symbol, momentum: result.Momentum})
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		return rankings[i].momentum > rankings[j].momentum
	})
	return rankings
}
