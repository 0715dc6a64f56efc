// Package backtest 实现按日推进的模拟内核：每个交易日依次派发分红、
// 解冻份额、询问策略、按次日开盘撮合、重估净值。
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finsim/internal/bars"
	"finsim/internal/execution"
	"finsim/internal/ledger"
	"finsim/internal/market"
	"finsim/internal/strategy"
)

// Result 汇总一次回测。
type Result struct {
	Trades      []ledger.Trade
	Rejections  []execution.Rejection
	EquityCurve []ledger.EquityPoint
	// Signals 是最后一个交易日发出、因没有次日行情而未能成交的
	// 订单，实时模式把它们当作当日信号。
	Signals     []strategy.Order
	Metrics     Metrics
	FinalEquity float64
}

// Engine 串联数据源、策略、执行引擎与账本。
type Engine struct {
	cfg      Config
	source   BarSource
	strat    strategy.Strategy
	exec     *execution.Engine
	recorder Recorder
	logger   *zap.Logger
}

// NewEngine 构建回测引擎。recorder 可以为空。
func NewEngine(cfg Config, source BarSource, strat strategy.Strategy, exec *execution.Engine, recorder Recorder, logger *zap.Logger) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("backtest: bar source 不能为空")
	}
	if strat == nil {
		return nil, fmt.Errorf("backtest: strategy 不能为空")
	}
	if exec == nil {
		return nil, fmt.Errorf("backtest: execution engine 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Engine{
		cfg:      cfg,
		source:   source,
		strat:    strat,
		exec:     exec,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Run 执行完整回测。单个标的数据不可用不会中断整个回测，
// 所有标的都不可用时才返回错误。
func (e *Engine) Run(ctx context.Context) (Result, error) {
	e.source.Warm(ctx, e.cfg.Symbols, e.cfg.Start, e.cfg.End)

	series := make(map[string][]market.Bar, len(e.cfg.Symbols))
	var all []market.Bar
	for _, symbol := range e.cfg.Symbols {
		symbolBars, err := e.source.GetSeries(ctx, symbol, e.cfg.Start, e.cfg.End)
		if err != nil {
			if errors.Is(err, bars.ErrDataUnavailable) {
				e.logger.Warn("标的无可用行情，整段跳过", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			return Result{}, fmt.Errorf("加载行情失败: %w", err)
		}
		series[symbol] = symbolBars
		all = append(all, symbolBars...)
	}
	if len(series) == 0 {
		return Result{}, fmt.Errorf("回测无法进行: %w", bars.ErrDataUnavailable)
	}

	// 交易日历取所有标的行情日期的并集：个别标的缺当日数据时
	// 其余标的照常交易。
	calendar := market.CalendarFromBars(all).Clip(e.cfg.Start, e.cfg.End)
	if calendar.Len() == 0 {
		return Result{}, fmt.Errorf("区间内没有交易日: %w", bars.ErrDataUnavailable)
	}

	byDate := indexByDate(series)
	led := ledger.New(e.cfg.InitialCash, e.cfg.Rules)

	var result Result
	for _, day := range calendar.Days() {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		todayBars := byDate[day]

		led.CreditDividends(day, todayBars)
		led.AdvanceDay(day)

		view := strategy.NewView(day, series)
		orders := e.strat.OnDay(view, led.Snapshot(day))

		nextDay, hasNext := calendar.Next(day)
		if hasNext {
			trades, rejections := e.exec.Execute(orders, byDate[nextDay], led)
			for _, trade := range trades {
				e.logger.Debug("成交",
					zap.String("symbol", trade.Symbol),
					zap.String("side", string(trade.Side)),
					zap.Float64("price", trade.Price),
					zap.Float64("quantity", trade.Quantity),
				)
				if e.recorder != nil {
					e.recorder.RecordTrade(ctx, trade)
				}
			}
			if e.recorder != nil {
				for _, rejection := range rejections {
					e.recorder.RecordRejection(ctx, rejection)
				}
			}
			result.Trades = append(result.Trades, trades...)
			result.Rejections = append(result.Rejections, rejections...)
		} else {
			result.Signals = append(result.Signals, orders...)
		}

		point := led.MarkToMarket(day, closesOf(todayBars))
		if e.recorder != nil {
			e.recorder.RecordEquity(ctx, point)
		}
	}

	result.EquityCurve = led.EquityCurve()
	result.Metrics = calculateMetrics(result.EquityCurve)
	result.FinalEquity = led.Equity()

	e.logger.Info("回测完成",
		zap.String("strategy", e.strat.Name()),
		zap.Int("days", calendar.Len()),
		zap.Int("trades", len(result.Trades)),
		zap.Int("rejections", len(result.Rejections)),
		zap.Float64("final_equity", result.FinalEquity),
	)

	return result, nil
}

func indexByDate(series map[string][]market.Bar) map[time.Time]map[string]market.Bar {
	byDate := make(map[time.Time]map[string]market.Bar)
	for symbol, symbolBars := range series {
		for _, bar := range symbolBars {
			day := market.Day(bar.Date)
			if byDate[day] == nil {
				byDate[day] = make(map[string]market.Bar)
			}
			byDate[day][symbol] = bar
		}
	}
	return byDate
}

func closesOf(dayBars map[string]market.Bar) map[string]float64 {
	closes := make(map[string]float64, len(dayBars))
	for symbol, bar := range dayBars {
		closes[symbol] = bar.Close
	}
	return closes
}
