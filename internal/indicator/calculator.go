package indicator

import (
	"fmt"
	"sync"

	talib "github.com/markcheno/go-talib"

	"finsim/internal/market"
)

// SMAResult 保存快慢均线的当前值与前一日值，用于判断交叉。
type SMAResult struct {
	Fast     float64
	Slow     float64
	PrevFast float64
	PrevSlow float64
}

// Result 为单个标的在某个交易日的指标汇总。
type Result struct {
	Symbol        string
	Series        Series
	SMA           SMAResult
	Momentum      float64
	RSI           float64
	Close         float64
	PreviousClose float64
}

// Params 指定指标窗口。
type Params struct {
	FastWindow     int
	SlowWindow     int
	MomentumWindow int
}

type cacheEntry struct {
	key    string
	result Result
}

// Calculator 提供技术指标计算并带有按标的的简单缓存。
// 同一标的在同一截面重复计算时直接命中，回测循环里
// 多个策略复用同一份指标不会重复调用 talib。
type Calculator struct {
	params Params

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator。
func NewCalculator(params Params) *Calculator {
	if params.FastWindow <= 0 {
		params.FastWindow = 20
	}
	if params.SlowWindow <= 0 {
		params.SlowWindow = 60
	}
	if params.MomentumWindow <= 0 {
		params.MomentumWindow = 120
	}
	return &Calculator{
		params: params,
		cache:  make(map[string]cacheEntry),
	}
}

// Compute 依据给定K线计算指标。K线必须按日期升序且只包含
// 当前交易日之前（含当日）的数据。
func (c *Calculator) Compute(symbol string, bars []market.Bar) (Result, error) {
	if len(bars) == 0 {
		return Result{}, fmt.Errorf("计算指标失败: %s 输入K线为空", symbol)
	}

	series := NewSeries(bars)
	cacheKey := fmt.Sprintf("%s:%d:%d", symbol, series.Len(), series.Dates[series.Len()-1].Unix())

	c.mu.Lock()
	if entry, ok := c.cache[symbol]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.result, nil
	}
	c.mu.Unlock()

	result := c.calculate(symbol, series)

	c.mu.Lock()
	c.cache[symbol] = cacheEntry{key: cacheKey, result: result}
	c.mu.Unlock()

	return result, nil
}

func (c *Calculator) calculate(symbol string, series Series) Result {
	closes := series.Close

	fast := talib.Sma(closes, c.params.FastWindow)
	slow := talib.Sma(closes, c.params.SlowWindow)

	var momentum float64
	if len(closes) > c.params.MomentumWindow {
		roc := talib.Roc(closes, c.params.MomentumWindow)
		momentum = Last(roc)
	}

	var rsi float64
	if len(closes) > 14 {
		rsi = Last(talib.Rsi(closes, 14))
	}

	return Result{
		Symbol: symbol,
		Series: series,
		SMA: SMAResult{
			Fast:     Last(fast),
			Slow:     Last(slow),
			PrevFast: Prev(fast),
			PrevSlow: Prev(slow),
		},
		Momentum:      momentum,
		RSI:           rsi,
		Close:         Last(closes),
		PreviousClose: Prev(closes),
	}
}
