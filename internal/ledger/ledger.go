// Package ledger 维护模拟账户：现金、持仓、待解冻记录与净值曲线。
// 账户状态只能通过 Ledger 的方法变更，执行引擎与内核不直接改字段。
package ledger

import (
	"fmt"
	"time"

	"finsim/internal/market"
	"finsim/internal/strategy"
)

// Trade 是一笔已成交记录。Amount 为成交金额（价格×数量），
// 费用单列，现金变动 = 金额 ± 费用。
type Trade struct {
	Symbol     string
	Side       strategy.Side
	Quantity   float64
	Price      float64
	Amount     float64
	Commission float64
	Tax        float64
	Issued     time.Time
	Filled     time.Time
}

// Cost 返回该笔成交的费用合计。
func (t Trade) Cost() float64 {
	return t.Commission + t.Tax
}

// Position 是单个标的的持仓。
type Position struct {
	Symbol    string
	Quantity  float64
	Frozen    float64
	AvgCost   float64
	LastPrice float64
}

// Sellable 返回可卖数量。
func (p Position) Sellable() float64 {
	return p.Quantity - p.Frozen
}

// EquityPoint 是净值曲线上的一个点。
type EquityPoint struct {
	Date   time.Time
	Cash   float64
	Equity float64
}

// 冻结记录：T+1 市场买入的份额要等到成交日之后的交易日才可卖。
type freeze struct {
	symbol   string
	quantity float64
	filled   time.Time
}

// Ledger 是账户的唯一持有者。
type Ledger struct {
	rules market.Rules

	cash      float64
	positions map[string]*Position
	order     []string
	frozen    []freeze
	curve     []EquityPoint
}

// New 创建账户。
func New(initialCash float64, rules market.Rules) *Ledger {
	return &Ledger{
		rules:     rules,
		cash:      initialCash,
		positions: make(map[string]*Position),
	}
}

// Cash 返回当前现金。
func (l *Ledger) Cash() float64 {
	return l.cash
}

// Sellable 返回标的当前可卖数量。
func (l *Ledger) Sellable(symbol string) float64 {
	pos, ok := l.positions[symbol]
	if !ok {
		return 0
	}
	return pos.Sellable()
}

// Apply 把一笔成交入账。买入扣减现金并建仓，T+1 市场同时冻结份额；
// 卖出回笼现金并减仓。资金与数量校验由执行引擎负责，Apply 只拒绝
// 明显不一致的输入。
func (l *Ledger) Apply(t Trade) error {
	switch t.Side {
	case strategy.SideBuy:
		return l.applyBuy(t)
	case strategy.SideSell:
		return l.applySell(t)
	default:
		return fmt.Errorf("ledger: 未知订单方向 %q", t.Side)
	}
}

func (l *Ledger) applyBuy(t Trade) error {
	if t.Quantity <= 0 {
		return fmt.Errorf("ledger: 买入数量必须为正，当前 %f", t.Quantity)
	}

	l.cash -= t.Amount + t.Cost()

	pos, ok := l.positions[t.Symbol]
	if !ok {
		pos = &Position{Symbol: t.Symbol}
		l.positions[t.Symbol] = pos
		l.order = append(l.order, t.Symbol)
	}

	// 成本摊入手续费。
	totalCost := pos.AvgCost*pos.Quantity + t.Amount + t.Cost()
	pos.Quantity += t.Quantity
	pos.AvgCost = totalCost / pos.Quantity
	pos.LastPrice = t.Price

	if l.rules.Settlement == market.SettleTPlusOne {
		pos.Frozen += t.Quantity
		l.frozen = append(l.frozen, freeze{symbol: t.Symbol, quantity: t.Quantity, filled: market.Day(t.Filled)})
	}

	return nil
}

func (l *Ledger) applySell(t Trade) error {
	pos, ok := l.positions[t.Symbol]
	if !ok || pos.Sellable() < t.Quantity {
		return fmt.Errorf("ledger: %s 可卖数量不足，需要 %f", t.Symbol, t.Quantity)
	}

	l.cash += t.Amount - t.Cost()
	pos.Quantity -= t.Quantity
	pos.LastPrice = t.Price

	if pos.Quantity == 0 {
		pos.AvgCost = 0
	}

	return nil
}

// AdvanceDay 在每个交易日开始时调用，把成交日早于当日的冻结份额解冻。
func (l *Ledger) AdvanceDay(date time.Time) {
	day := market.Day(date)
	remaining := l.frozen[:0]
	for _, f := range l.frozen {
		if f.filled.Before(day) {
			if pos, ok := l.positions[f.symbol]; ok {
				pos.Frozen -= f.quantity
				if pos.Frozen < 0 {
					pos.Frozen = 0
				}
			}
			continue
		}
		remaining = append(remaining, f)
	}
	l.frozen = remaining
}

// CreditDividends 在当日成交发生前派发分红：每持有一股计入对应现金。
func (l *Ledger) CreditDividends(date time.Time, bars map[string]market.Bar) {
	for symbol, bar := range bars {
		if bar.Dividend <= 0 {
			continue
		}
		pos, ok := l.positions[symbol]
		if !ok || pos.Quantity <= 0 {
			continue
		}
		l.cash += pos.Quantity * bar.Dividend
	}
}

// MarkToMarket 用当日收盘价重估持仓并记一个净值点。
// 当日无行情的标的沿用最近一次已知价格。
func (l *Ledger) MarkToMarket(date time.Time, closes map[string]float64) EquityPoint {
	equity := l.cash
	for _, symbol := range l.order {
		pos := l.positions[symbol]
		if pos.Quantity <= 0 {
			continue
		}
		if close, ok := closes[symbol]; ok && close > 0 {
			pos.LastPrice = close
		}
		equity += pos.Quantity * pos.LastPrice
	}

	point := EquityPoint{Date: market.Day(date), Cash: l.cash, Equity: equity}
	l.curve = append(l.curve, point)
	return point
}

// EquityCurve 返回到目前为止的净值曲线。
func (l *Ledger) EquityCurve() []EquityPoint {
	curve := make([]EquityPoint, len(l.curve))
	copy(curve, l.curve)
	return curve
}

// Equity 返回最近一次重估的净值；尚未重估时返回现金。
func (l *Ledger) Equity() float64 {
	if len(l.curve) == 0 {
		return l.cash
	}
	return l.curve[len(l.curve)-1].Equity
}

// Snapshot 生成策略可见的只读快照。
func (l *Ledger) Snapshot(date time.Time) strategy.Snapshot {
	snapshot := strategy.Snapshot{
		Date:   market.Day(date),
		Cash:   l.cash,
		Equity: l.Equity(),
	}
	for _, symbol := range l.order {
		pos := l.positions[symbol]
		if pos.Quantity <= 0 {
			continue
		}
		snapshot.Positions = append(snapshot.Positions, strategy.PositionView{
			Symbol:    pos.Symbol,
			Quantity:  pos.Quantity,
			Sellable:  pos.Sellable(),
			AvgCost:   pos.AvgCost,
			LastPrice: pos.LastPrice,
		})
	}
	return snapshot
}
