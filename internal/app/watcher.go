// Package app 驱动实时信号模式：按固定周期跑一段滚动窗口的回测，
// 把最后一个交易日产生的新信号通过通知通道发出。
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finsim/internal/backtest"
	"finsim/internal/config"
	"finsim/internal/execution"
	"finsim/internal/market"
	"finsim/internal/notify"
	"finsim/internal/strategy"
)

// Watcher 定时评估策略并推送新信号。
type Watcher struct {
	cfg      config.WatchConfig
	symbols  []string
	cash     float64
	rules    market.Rules
	source   backtest.BarSource
	strat    strategy.Strategy
	notifier notify.Notifier
	logger   *zap.Logger

	// 已通知过的信号，避免同一信号每个周期重复打扰。
	sent map[string]bool
}

// NewWatcher 创建实时观察器。notifier 为空时信号只记日志。
func NewWatcher(cfg config.WatchConfig, symbols []string, cash float64, rules market.Rules, source backtest.BarSource, strat strategy.Strategy, notifier notify.Notifier, logger *zap.Logger) (*Watcher, error) {
	if source == nil {
		return nil, fmt.Errorf("app: bar source 不能为空")
	}
	if strat == nil {
		return nil, fmt.Errorf("app: strategy 不能为空")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Watcher{
		cfg:      cfg,
		symbols:  symbols,
		cash:     cash,
		rules:    rules,
		source:   source,
		strat:    strat,
		notifier: notifier,
		logger:   logger,
		sent:     make(map[string]bool),
	}, nil
}

// Run 按配置的周期循环评估，直到上下文取消。
func (w *Watcher) Run(ctx context.Context) error {
	interval := w.cfg.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	w.logger.Info("实时信号模式已启动",
		zap.Strings("symbols", w.symbols),
		zap.Duration("interval", interval),
	)

	if err := w.Tick(ctx); err != nil {
		w.logger.Error("首次评估失败", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			w.logger.Info("收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.logger.Error("评估失败", zap.Error(err))
			}
		}
	}
}

// Tick 执行一轮评估：跑一段滚动窗口的回测，取最后交易日的信号。
// 数据或通知失败都不致命，下个周期重试。
func (w *Watcher) Tick(ctx context.Context) error {
	windowDays := w.cfg.WindowDays
	if windowDays <= 0 {
		windowDays = 365
	}

	end := market.Day(time.Now().UTC())
	start := end.AddDate(0, 0, -windowDays)

	engine, err := backtest.NewEngine(backtest.Config{
		Symbols:     w.symbols,
		Start:       start,
		End:         end,
		InitialCash: w.cash,
		Rules:       w.rules,
	}, w.source, w.strat, execution.New(w.rules, w.logger), nil, w.logger)
	if err != nil {
		return fmt.Errorf("构建评估引擎失败: %w", err)
	}

	result, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("评估运行失败: %w", err)
	}

	fresh := w.freshSignals(result.Signals)
	if len(fresh) == 0 {
		w.logger.Info("本轮无新信号")
		return nil
	}

	summary := notify.Summary{
		Subject:     fmt.Sprintf("交易信号 %s", fresh[0].Issued.Format("2006-01-02")),
		Signals:     fresh,
		GeneratedAt: time.Now().UTC(),
	}
	if err := w.notifier.Send(ctx, summary); err != nil {
		// 不标记已发送，下个周期重试。
		w.logger.Warn("通知发送失败", zap.Error(err))
		return nil
	}

	for _, signal := range fresh {
		w.sent[signalKey(signal)] = true
	}
	w.logger.Info("信号已推送", zap.Int("count", len(fresh)))
	return nil
}

func (w *Watcher) freshSignals(signals []strategy.Order) []strategy.Order {
	var fresh []strategy.Order
	for _, signal := range signals {
		if w.sent[signalKey(signal)] {
			continue
		}
		fresh = append(fresh, signal)
	}
	return fresh
}

func signalKey(order strategy.Order) string {
	return fmt.Sprintf("%s|%s|%s", order.Issued.Format("2006-01-02"), order.Symbol, order.Side)
}
