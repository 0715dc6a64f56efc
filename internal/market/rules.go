package market

import "fmt"

// Settlement 表示结算规则。
type Settlement string

const (
	// SettleSameDay 当日结算，成交后份额与资金立即可用。
	SettleSameDay Settlement = "same_day"
	// SettleTPlusOne T+1 结算，买入份额次一交易日才可卖出。
	SettleTPlusOne Settlement = "t_plus_1"
)

// Commission 描述佣金模型：按成交金额比例收取，不低于最低值。
type Commission struct {
	Rate    float64
	Minimum float64
}

// Of 计算一笔成交金额对应的佣金。
func (c Commission) Of(notional float64) float64 {
	fee := notional * c.Rate
	if fee < c.Minimum {
		fee = c.Minimum
	}
	return fee
}

// Rules 汇总单个市场的交易规则。
type Rules struct {
	Kind        Kind
	Settlement  Settlement
	LotSize     int64      // 最小成交单位，A股为100
	Commission  Commission // 双边佣金
	StampTax    float64    // 印花税率，仅卖出收取
	SlippageBps float64    // 滑点，基点
	AllowMargin bool       // 是否允许现金为负
}

// Validate 校验规则完整性，配置错误应在回测开始前失败。
func (r Rules) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("market: 不支持的市场类型 %q", r.Kind)
	}
	switch r.Settlement {
	case SettleSameDay, SettleTPlusOne:
	default:
		return fmt.Errorf("market: 无效的结算规则 %q", r.Settlement)
	}
	if r.LotSize <= 0 {
		return fmt.Errorf("market: lot_size 必须大于0，当前为 %d", r.LotSize)
	}
	if r.Commission.Rate < 0 || r.Commission.Minimum < 0 {
		return fmt.Errorf("market: 佣金参数不能为负")
	}
	if r.StampTax < 0 {
		return fmt.Errorf("market: 印花税率不能为负")
	}
	if r.SlippageBps < 0 {
		return fmt.Errorf("market: 滑点不能为负")
	}
	return nil
}

// CNRules 返回A股默认规则：T+1、一手100股、卖出0.1%印花税。
func CNRules() Rules {
	return Rules{
		Kind:        KindCN,
		Settlement:  SettleTPlusOne,
		LotSize:     100,
		Commission:  Commission{Rate: 0.00025, Minimum: 5},
		StampTax:    0.001,
		SlippageBps: 5,
	}
}

// USRules 返回美股默认规则：当日结算、零佣金。
func USRules() Rules {
	return Rules{
		Kind:        KindUS,
		Settlement:  SettleSameDay,
		LotSize:     1,
		Commission:  Commission{},
		SlippageBps: 2,
	}
}

// CryptoRules 返回加密货币默认规则：当日结算、比例佣金。
func CryptoRules() Rules {
	return Rules{
		Kind:        KindCrypto,
		Settlement:  SettleSameDay,
		LotSize:     1,
		Commission:  Commission{Rate: 0.001},
		SlippageBps: 10,
	}
}

// DefaultRules 按市场类型返回默认规则。
func DefaultRules(kind Kind) (Rules, error) {
	switch kind {
	case KindUS:
		return USRules(), nil
	case KindCN:
		return CNRules(), nil
	case KindCrypto:
		return CryptoRules(), nil
	default:
		return Rules{}, fmt.Errorf("market: 不支持的市场类型 %q", kind)
	}
}
