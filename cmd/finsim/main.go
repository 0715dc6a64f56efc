package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"finsim/internal/app"
	"finsim/internal/backtest"
	"finsim/internal/bars"
	"finsim/internal/config"
	"finsim/internal/execution"
	"finsim/internal/indicator"
	"finsim/internal/log"
	"finsim/internal/market"
	"finsim/internal/notify"
	"finsim/internal/provider"
	"finsim/internal/report"
	"finsim/internal/store"
	"finsim/internal/strategy"
)

func main() {
	var (
		configPath string
		mode       string
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&mode, "mode", "backtest", "运行模式: backtest 或 watch")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	kind := market.Kind(cfg.Backtest.Market)
	rules, err := cfg.Markets.Rules(kind)
	if err != nil {
		logger.Error("解析市场规则失败", zap.Error(err))
		os.Exit(1)
	}

	prov := buildProvider(kind, cfg.Providers, logger)
	barStore, err := bars.New(sqliteStore, prov, cfg.Providers.Retry, logger)
	if err != nil {
		logger.Error("初始化行情缓存失败", zap.Error(err))
		os.Exit(1)
	}

	strat, err := buildStrategy(cfg, rules)
	if err != nil {
		logger.Error("初始化策略失败", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "backtest":
		err = runBacktest(ctx, cfg, rules, barStore, strat, sqliteStore, logger)
	case "watch":
		err = runWatch(ctx, cfg, rules, barStore, strat, logger)
	default:
		err = fmt.Errorf("未知运行模式 %q", mode)
	}
	if err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("系统已安全退出")
}

func buildProvider(kind market.Kind, cfg config.ProvidersConfig, logger *zap.Logger) provider.Provider {
	switch kind {
	case market.KindUS:
		return provider.NewAlpaca(provider.AlpacaConfig{
			APIKey:    cfg.US.APIKey,
			APISecret: cfg.US.APISecret,
			BaseURL:   cfg.US.BaseURL,
		}, logger)
	case market.KindCrypto:
		return provider.NewCCXT(provider.CCXTConfig{
			APIKey:    cfg.Crypto.APIKey,
			APISecret: cfg.Crypto.APISecret,
		}, logger)
	default:
		return provider.NewEastMoney(provider.EastMoneyConfig{
			BaseURL: cfg.CN.BaseURL,
			Timeout: cfg.CN.Timeout,
		}, logger)
	}
}

func buildStrategy(cfg *config.Config, rules market.Rules) (strategy.Strategy, error) {
	params := indicator.Params{
		FastWindow:     cfg.Strategy.FastWindow,
		SlowWindow:     cfg.Strategy.SlowWindow,
		MomentumWindow: cfg.Strategy.MomentumWindow,
	}
	switch cfg.Strategy.Name {
	case "sma_cross":
		return strategy.NewSMACross(cfg.Backtest.Symbols, rules, params), nil
	case "momentum_topk":
		return strategy.NewMomentumTopK(cfg.Backtest.Symbols, rules, params, cfg.Strategy.TopK), nil
	default:
		return nil, fmt.Errorf("未知策略 %q", cfg.Strategy.Name)
	}
}

func runBacktest(ctx context.Context, cfg *config.Config, rules market.Rules, barStore *bars.Store, strat strategy.Strategy, sqliteStore *store.Store, logger *zap.Logger) error {
	start, err := cfg.Backtest.StartTime()
	if err != nil {
		return fmt.Errorf("解析开始日期失败: %w", err)
	}
	end, err := cfg.Backtest.EndTime()
	if err != nil {
		return fmt.Errorf("解析结束日期失败: %w", err)
	}

	recorder, err := report.NewRecorder(sqliteStore, "", logger)
	if err != nil {
		return fmt.Errorf("初始化记录器失败: %w", err)
	}

	engine, err := backtest.NewEngine(backtest.Config{
		Symbols:     cfg.Backtest.Symbols,
		Start:       start,
		End:         end,
		InitialCash: cfg.Backtest.InitialCash,
		Rules:       rules,
	}, barStore, strat, execution.New(rules, logger), recorder, logger)
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	printSummary(result, recorder.Run())
	return nil
}

func runWatch(ctx context.Context, cfg *config.Config, rules market.Rules, barStore *bars.Store, strat strategy.Strategy, logger *zap.Logger) error {
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		mailjet, err := notify.NewMailjet(cfg.Notify, logger)
		if err != nil {
			return fmt.Errorf("初始化通知器失败: %w", err)
		}
		notifier = mailjet
	}

	watcher, err := app.NewWatcher(cfg.Watch, cfg.Backtest.Symbols, cfg.Backtest.InitialCash, rules, barStore, strat, notifier, logger)
	if err != nil {
		return err
	}
	return watcher.Run(ctx)
}

func printSummary(result backtest.Result, run string) {
	fmt.Printf("回测完成 (run=%s)\n", run)
	fmt.Printf("  成交笔数:   %d\n", len(result.Trades))
	fmt.Printf("  拒单笔数:   %d\n", len(result.Rejections))
	fmt.Printf("  期末净值:   %.2f\n", result.FinalEquity)
	fmt.Printf("  总收益率:   %.2f%%\n", result.Metrics.TotalReturn*100)
	fmt.Printf("  最大回撤:   %.2f%%\n", result.Metrics.MaxDrawdown*100)
	fmt.Printf("  夏普比率:   %.2f\n", result.Metrics.SharpeRatio)
	if len(result.Signals) > 0 {
		fmt.Printf("  待执行信号: %d\n", len(result.Signals))
		for _, signal := range result.Signals {
			fmt.Printf("    %s %s x%.0f\n", signal.Side, signal.Symbol, signal.Quantity)
		}
	}
}
