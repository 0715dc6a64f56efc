// Package strategy 定义策略与回测内核之间的契约：策略只能读取
// 当日及之前的行情与账户快照，输出意向订单，不接触成交价格。
package strategy

import (
	"time"

	"finsim/internal/market"
)

// Side 表示订单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order 是策略产出的意向订单。订单不带价格：成交价由执行引擎
// 按下一交易日开盘价决定。
type Order struct {
	Symbol   string
	Side     Side
	Quantity float64
	Issued   time.Time
}

// PositionView 是持仓的只读视图。
type PositionView struct {
	Symbol   string
	Quantity float64
	// Sellable 为可卖数量（总量减去未解冻部分）。
	Sellable  float64
	AvgCost   float64
	LastPrice float64
}

// Snapshot 是账户的只读快照，策略修改它不会影响真实账户。
type Snapshot struct {
	Date      time.Time
	Cash      float64
	Equity    float64
	Positions []PositionView
}

// Position 按标的查找持仓。
func (s Snapshot) Position(symbol string) (PositionView, bool) {
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return PositionView{}, false
}

// View 是某个交易日的时点视图，只暴露当日及之前的行情。
type View struct {
	today time.Time
	bars  map[string][]market.Bar
}

// NewView 创建时点视图。bars 为各标的完整历史，按日期升序。
func NewView(today time.Time, bars map[string][]market.Bar) *View {
	return &View{today: market.Day(today), bars: bars}
}

// Today 返回视图对应的交易日。
func (v *View) Today() time.Time {
	return v.today
}

// History 返回标的截至当日（含当日）的全部K线。
func (v *View) History(symbol string) []market.Bar {
	all := v.bars[symbol]
	if len(all) == 0 {
		return nil
	}
	return market.ClipBars(all, all[0].Date, v.today)
}

// Close 返回标的当日收盘价；当日无行情时返回最近一个收盘价。
// 没有任何可用数据时 ok 为 false。
func (v *View) Close(symbol string) (float64, bool) {
	history := v.History(symbol)
	if len(history) == 0 {
		return 0, false
	}
	return history[len(history)-1].Close, true
}

// Strategy 是所有策略实现的接口。OnDay 必须是纯函数：相同的
// 视图与快照必须产出相同的订单序列。
type Strategy interface {
	Name() string
	Symbols() []string
	OnDay(view *View, acct Snapshot) []Order
}

// FloorToLot 把数量向下取整到整手。
func FloorToLot(qty float64, lot int64) float64 {
	if lot <= 0 {
		lot = 1
	}
	if qty <= 0 {
		return 0
	}
	lots := int64(qty) / lot
	return float64(lots * lot)
}
