package backtest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"finsim/internal/bars"
	"finsim/internal/execution"
	"finsim/internal/ledger"
	"finsim/internal/market"
	"finsim/internal/strategy"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// 无滑点的T+1规则，让成交价直接等于开盘价，断言更直观。
func testRules() market.Rules {
	return market.Rules{
		Kind:       market.KindCN,
		Settlement: market.SettleTPlusOne,
		LotSize:    100,
		Commission: market.Commission{Rate: 0.00025, Minimum: 5},
		StampTax:   0.001,
	}
}

type fakeSource struct {
	series map[string][]market.Bar
	fail   map[string]bool
}

func (f *fakeSource) GetSeries(_ context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	if f.fail[symbol] {
		return nil, fmt.Errorf("%w: %s", bars.ErrDataUnavailable, symbol)
	}
	return market.ClipBars(f.series[symbol], start, end), nil
}

func (f *fakeSource) Warm(context.Context, []string, time.Time, time.Time) {}

type scriptStrategy struct {
	symbols []string
	script  map[time.Time][]strategy.Order
	// 每个交易日策略可见的历史K线数，用于验证没有未来数据泄漏。
	historyLens []int
}

func (s *scriptStrategy) Name() string      { return "script" }
func (s *scriptStrategy) Symbols() []string { return s.symbols }

func (s *scriptStrategy) OnDay(view *strategy.View, _ strategy.Snapshot) []strategy.Order {
	s.historyLens = append(s.historyLens, len(view.History(s.symbols[0])))
	return s.script[view.Today()]
}

type countingRecorder struct {
	trades     int
	rejections int
	equity     int
}

func (r *countingRecorder) RecordTrade(context.Context, ledger.Trade) { r.trades++ }

func (r *countingRecorder) RecordRejection(context.Context, execution.Rejection) { r.rejections++ }

func (r *countingRecorder) RecordEquity(context.Context, ledger.EquityPoint) { r.equity++ }

// 四个连续交易日，开盘价与收盘价都可预测。
func weekBars(symbol string) []market.Bar {
	closes := []float64{100, 102, 101, 105}
	opens := []float64{99, 101, 102, 103}
	out := make([]market.Bar, len(closes))
	for i := range closes {
		out[i] = market.Bar{
			Symbol: symbol,
			Date:   date(2024, 1, 1+i),
			Open:   opens[i],
			High:   closes[i] + 1,
			Low:    opens[i] - 1,
			Close:  closes[i],
			Volume: 1000,
		}
	}
	return out
}

func buyOrder(symbol string, qty float64, issued time.Time) strategy.Order {
	return strategy.Order{Symbol: symbol, Side: strategy.SideBuy, Quantity: qty, Issued: issued}
}

func sellOrder(symbol string, qty float64, issued time.Time) strategy.Order {
	return strategy.Order{Symbol: symbol, Side: strategy.SideSell, Quantity: qty, Issued: issued}
}

func newTestEngine(t *testing.T, source BarSource, strat strategy.Strategy, recorder Recorder) *Engine {
	t.Helper()
	cfg := Config{
		Symbols:     strat.Symbols(),
		Start:       date(2024, 1, 1),
		End:         date(2024, 1, 4),
		InitialCash: 1000000,
		Rules:       testRules(),
	}
	engine, err := NewEngine(cfg, source, strat, execution.New(testRules(), nil), recorder, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func TestRunFillsBuyAtNextDayOpen(t *testing.T) {
	source := &fakeSource{series: map[string][]market.Bar{"600519.SS": weekBars("600519.SS")}}
	strat := &scriptStrategy{
		symbols: []string{"600519.SS"},
		script: map[time.Time][]strategy.Order{
			date(2024, 1, 1): {buyOrder("600519.SS", 100, date(2024, 1, 1))},
		},
	}

	result, err := newTestEngine(t, source, strat, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(result.Trades))
	}
	trade := result.Trades[0]
	if trade.Price != 101 {
		t.Errorf("fill price = %f, want next-day open 101", trade.Price)
	}
	if !trade.Filled.Equal(date(2024, 1, 2)) {
		t.Errorf("fill date = %s, want 2024-01-02", trade.Filled.Format("2006-01-02"))
	}
	if !trade.Issued.Equal(date(2024, 1, 1)) {
		t.Errorf("issue date = %s, want 2024-01-01", trade.Issued.Format("2006-01-02"))
	}

	if len(result.EquityCurve) != 4 {
		t.Fatalf("expected 4 equity points, got %d", len(result.EquityCurve))
	}

	// 持有100股，期末净值 = 现金 + 100 × 最后收盘价。
	last := result.EquityCurve[3]
	wantEquity := last.Cash + 100*105
	if result.FinalEquity != wantEquity {
		t.Errorf("final equity = %f, want %f", result.FinalEquity, wantEquity)
	}
}

func TestRunStrategySeesNoFutureBars(t *testing.T) {
	source := &fakeSource{series: map[string][]market.Bar{"600519.SS": weekBars("600519.SS")}}
	strat := &scriptStrategy{symbols: []string{"600519.SS"}}

	if _, err := newTestEngine(t, source, strat, nil).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []int{1, 2, 3, 4}
	if len(strat.historyLens) != len(want) {
		t.Fatalf("strategy called %d times, want %d", len(strat.historyLens), len(want))
	}
	for i, got := range strat.historyLens {
		if got != want[i] {
			t.Errorf("day %d: strategy saw %d bars, want %d", i+1, got, want[i])
		}
	}
}

func TestRunTPlusOneSellFlow(t *testing.T) {
	source := &fakeSource{series: map[string][]market.Bar{"600519.SS": weekBars("600519.SS")}}
	strat := &scriptStrategy{
		symbols: []string{"600519.SS"},
		script: map[time.Time][]strategy.Order{
			date(2024, 1, 1): {buyOrder("600519.SS", 100, date(2024, 1, 1))},
			// 成交当日（1月2日）的卖单必须被拒。
			date(2024, 1, 2): {sellOrder("600519.SS", 100, date(2024, 1, 2))},
			// 次日解冻后的卖单正常成交。
			date(2024, 1, 3): {sellOrder("600519.SS", 100, date(2024, 1, 3))},
		},
	}

	result, err := newTestEngine(t, source, strat, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Rejections) != 1 {
		t.Fatalf("expected 1 rejection, got %d: %+v", len(result.Rejections), result.Rejections)
	}
	if result.Rejections[0].Reason != execution.ReasonInsufficientQty {
		t.Errorf("rejection reason = %s, want %s", result.Rejections[0].Reason, execution.ReasonInsufficientQty)
	}

	if len(result.Trades) != 2 {
		t.Fatalf("expected buy+sell trades, got %d", len(result.Trades))
	}
	sell := result.Trades[1]
	if sell.Side != strategy.SideSell {
		t.Fatalf("second trade is %s, want sell", sell.Side)
	}
	if !sell.Filled.Equal(date(2024, 1, 4)) {
		t.Errorf("sell filled %s, want 2024-01-04", sell.Filled.Format("2006-01-02"))
	}
	if sell.Price != 103 {
		t.Errorf("sell price = %f, want day-4 open 103", sell.Price)
	}
}

func TestRunContinuesWhenOneSymbolUnavailable(t *testing.T) {
	source := &fakeSource{
		series: map[string][]market.Bar{"AAA": weekBars("AAA")},
		fail:   map[string]bool{"BBB": true},
	}
	strat := &scriptStrategy{symbols: []string{"AAA", "BBB"}}

	result, err := newTestEngine(t, source, strat, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("one unavailable symbol must not abort the run: %v", err)
	}
	if len(result.EquityCurve) != 4 {
		t.Errorf("expected 4 equity points, got %d", len(result.EquityCurve))
	}
}

func TestRunFailsWhenAllSymbolsUnavailable(t *testing.T) {
	source := &fakeSource{fail: map[string]bool{"AAA": true}}
	strat := &scriptStrategy{symbols: []string{"AAA"}}

	_, err := newTestEngine(t, source, strat, nil).Run(context.Background())
	if !errors.Is(err, bars.ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
}

func TestRunFinalDayOrdersBecomeSignals(t *testing.T) {
	source := &fakeSource{series: map[string][]market.Bar{"600519.SS": weekBars("600519.SS")}}
	strat := &scriptStrategy{
		symbols: []string{"600519.SS"},
		script: map[time.Time][]strategy.Order{
			date(2024, 1, 4): {buyOrder("600519.SS", 100, date(2024, 1, 4))},
		},
	}

	result, err := newTestEngine(t, source, strat, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Trades) != 0 {
		t.Errorf("final-day order must not fill, got %+v", result.Trades)
	}
	if len(result.Signals) != 1 || result.Signals[0].Symbol != "600519.SS" {
		t.Fatalf("expected final-day order as signal, got %+v", result.Signals)
	}
}

func TestRunCreditsDividendsBeforeFills(t *testing.T) {
	series := weekBars("600519.SS")
	series[2].Dividend = 1.5

	source := &fakeSource{series: map[string][]market.Bar{"600519.SS": series}}
	strat := &scriptStrategy{
		symbols: []string{"600519.SS"},
		script: map[time.Time][]strategy.Order{
			date(2024, 1, 1): {buyOrder("600519.SS", 100, date(2024, 1, 1))},
		},
	}

	result, err := newTestEngine(t, source, strat, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 1月2日持有100股，1月3日每股派息1.5元。
	day2 := result.EquityCurve[1]
	day3 := result.EquityCurve[2]
	if got := day3.Cash - day2.Cash; got != 150 {
		t.Errorf("dividend credit = %f, want 150", got)
	}
}

func TestRunReportsToRecorder(t *testing.T) {
	source := &fakeSource{series: map[string][]market.Bar{"600519.SS": weekBars("600519.SS")}}
	strat := &scriptStrategy{
		symbols: []string{"600519.SS"},
		script: map[time.Time][]strategy.Order{
			date(2024, 1, 1): {buyOrder("600519.SS", 100, date(2024, 1, 1))},
			date(2024, 1, 2): {sellOrder("600519.SS", 100, date(2024, 1, 2))},
		},
	}
	recorder := &countingRecorder{}

	if _, err := newTestEngine(t, source, strat, recorder).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if recorder.trades != 1 {
		t.Errorf("recorded trades = %d, want 1", recorder.trades)
	}
	if recorder.rejections != 1 {
		t.Errorf("recorded rejections = %d, want 1", recorder.rejections)
	}
	if recorder.equity != 4 {
		t.Errorf("recorded equity points = %d, want 4", recorder.equity)
	}
}

func TestMetricsFromEquityCurve(t *testing.T) {
	curve := []ledger.EquityPoint{
		{Equity: 100}, {Equity: 110}, {Equity: 99}, {Equity: 120},
	}
	metrics := calculateMetrics(curve)

	if metrics.TotalReturn != 0.2 {
		t.Errorf("total return = %f, want 0.2", metrics.TotalReturn)
	}
	wantDD := (110.0 - 99.0) / 110.0
	if diff := metrics.MaxDrawdown - wantDD; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("max drawdown = %f, want %f", metrics.MaxDrawdown, wantDD)
	}
	if metrics.SharpeRatio == 0 {
		t.Errorf("expected nonzero sharpe for varying returns")
	}
}
