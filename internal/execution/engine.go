// Package execution 把意向订单变成成交或拒单。成交价一律取订单
// 发出后下一个交易日的开盘价，再叠加滑点与费用。
package execution

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"finsim/internal/ledger"
	"finsim/internal/market"
	"finsim/internal/strategy"
)

// 拒单原因。
const (
	ReasonNoNextBar        = "no_next_bar"
	ReasonInsufficientCash = "insufficient_cash"
	ReasonInsufficientQty  = "insufficient_sellable"
	ReasonInvalidOrder     = "invalid_order"
)

// Rejection 是被整单拒绝的订单。拒单是正常业务结果而非错误，
// 回测照常继续。
type Rejection struct {
	Order  strategy.Order
	Reason string
	Detail string
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s %s x%.2f 被拒: %s", r.Order.Side, r.Order.Symbol, r.Order.Quantity, r.Reason)
}

// Engine 按市场规则撮合订单。
type Engine struct {
	rules  market.Rules
	logger *zap.Logger
}

// New 创建执行引擎。
func New(rules market.Rules, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{rules: rules, logger: logger}
}

// Execute 逐个处理订单。nextBars 为各标的下一交易日的K线，
// 缺失的标的当日无法成交。买入数量先按一手向下取整，不足
// 一手整单拒绝。成交立即入账，后续订单看到的是已更新的
// 现金与持仓。订单要么完整成交要么整单拒绝。
func (e *Engine) Execute(orders []strategy.Order, nextBars map[string]market.Bar, led *ledger.Ledger) ([]ledger.Trade, []Rejection) {
	var (
		trades     []ledger.Trade
		rejections []Rejection
	)

	for _, order := range orders {
		trade, rejection := e.fill(order, nextBars, led)
		if rejection != nil {
			e.logger.Debug("订单被拒",
				zap.String("symbol", order.Symbol),
				zap.String("side", string(order.Side)),
				zap.String("reason", rejection.Reason),
			)
			rejections = append(rejections, *rejection)
			continue
		}

		if err := led.Apply(*trade); err != nil {
			// 引擎校验与账本校验不一致属于程序缺陷，记日志后按拒单处理。
			e.logger.Error("成交入账失败", zap.Error(err))
			rejections = append(rejections, Rejection{Order: order, Reason: ReasonInvalidOrder, Detail: err.Error()})
			continue
		}
		trades = append(trades, *trade)
	}

	return trades, rejections
}

func (e *Engine) fill(order strategy.Order, nextBars map[string]market.Bar, led *ledger.Ledger) (*ledger.Trade, *Rejection) {
	if order.Quantity <= 0 {
		return nil, &Rejection{Order: order, Reason: ReasonInvalidOrder, Detail: "数量必须为正"}
	}
	if order.Side != strategy.SideBuy && order.Side != strategy.SideSell {
		return nil, &Rejection{Order: order, Reason: ReasonInvalidOrder, Detail: "方向未知"}
	}

	quantity := order.Quantity
	if order.Side == strategy.SideBuy {
		quantity = strategy.FloorToLot(quantity, e.rules.LotSize)
		if quantity <= 0 {
			return nil, &Rejection{
				Order:  order,
				Reason: ReasonInvalidOrder,
				Detail: fmt.Sprintf("数量 %.2f 不足一手 %d", order.Quantity, e.rules.LotSize),
			}
		}
	}

	bar, ok := nextBars[order.Symbol]
	if !ok || bar.Open <= 0 {
		return nil, &Rejection{Order: order, Reason: ReasonNoNextBar}
	}

	price := e.fillPrice(order.Side, bar.Open)
	amount := price * quantity
	commission := e.rules.Commission.Of(amount)

	var tax float64
	if order.Side == strategy.SideSell {
		tax = amount * e.rules.StampTax
	}

	switch order.Side {
	case strategy.SideBuy:
		required := amount + commission
		if !e.rules.AllowMargin && led.Cash() < required {
			return nil, &Rejection{
				Order:  order,
				Reason: ReasonInsufficientCash,
				Detail: fmt.Sprintf("需要 %.2f，可用 %.2f", required, led.Cash()),
			}
		}
	case strategy.SideSell:
		if led.Sellable(order.Symbol) < order.Quantity {
			return nil, &Rejection{
				Order:  order,
				Reason: ReasonInsufficientQty,
				Detail: fmt.Sprintf("需要 %.2f，可卖 %.2f", order.Quantity, led.Sellable(order.Symbol)),
			}
		}
	}

	return &ledger.Trade{
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   quantity,
		Price:      price,
		Amount:     amount,
		Commission: commission,
		Tax:        tax,
		Issued:     market.Day(order.Issued),
		Filled:     fillDate(bar),
	}, nil
}

// fillPrice 在开盘价上叠加逆向滑点：买入更贵，卖出更便宜。
func (e *Engine) fillPrice(side strategy.Side, open float64) float64 {
	slip := open * e.rules.SlippageBps / 10000
	if side == strategy.SideBuy {
		return open + slip
	}
	return open - slip
}

func fillDate(bar market.Bar) time.Time {
	return market.Day(bar.Date)
}
