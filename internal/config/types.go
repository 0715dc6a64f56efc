package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"finsim/internal/market"
)

// Config 聚合了回测与实时信号运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Markets   MarketsConfig   `mapstructure:"markets"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// BacktestConfig 定义一次回测的范围与初始资金。
type BacktestConfig struct {
	Symbols     []string `mapstructure:"symbols"`
	Market      string   `mapstructure:"market"`
	Start       string   `mapstructure:"start"`
	End         string   `mapstructure:"end"`
	InitialCash float64  `mapstructure:"initial_cash"`
}

// StartTime 解析回测开始日期。
func (c BacktestConfig) StartTime() (time.Time, error) {
	return time.Parse("2006-01-02", c.Start)
}

// EndTime 解析回测结束日期，为空时取当前日期。
func (c BacktestConfig) EndTime() (time.Time, error) {
	if c.End == "" {
		return market.Day(time.Now()), nil
	}
	return time.Parse("2006-01-02", c.End)
}

// MarketRuleConfig 描述单个市场的交易规则，缺省项由市场默认值补齐。
// 数值字段用指针区分“未配置”与“显式设为0”，零费率是合法配置。
type MarketRuleConfig struct {
	Settlement     string   `mapstructure:"settlement"`
	LotSize        *int64   `mapstructure:"lot_size"`
	CommissionRate *float64 `mapstructure:"commission_rate"`
	CommissionMin  *float64 `mapstructure:"commission_min"`
	StampTax       *float64 `mapstructure:"stamp_tax"`
	SlippageBps    *float64 `mapstructure:"slippage_bps"`
	AllowMargin    *bool    `mapstructure:"allow_margin"`
}

// MarketsConfig 按市场类型聚合规则配置。
type MarketsConfig struct {
	US     MarketRuleConfig `mapstructure:"us"`
	CN     MarketRuleConfig `mapstructure:"cn"`
	Crypto MarketRuleConfig `mapstructure:"crypto"`
}

// Rules 将某市场的配置合并到默认规则上。
func (m MarketsConfig) Rules(kind market.Kind) (market.Rules, error) {
	rules, err := market.DefaultRules(kind)
	if err != nil {
		return market.Rules{}, err
	}

	var override MarketRuleConfig
	switch kind {
	case market.KindUS:
		override = m.US
	case market.KindCN:
		override = m.CN
	case market.KindCrypto:
		override = m.Crypto
	}

	if override.Settlement != "" {
		rules.Settlement = market.Settlement(override.Settlement)
	}
	if override.LotSize != nil {
		rules.LotSize = *override.LotSize
	}
	if override.CommissionRate != nil {
		rules.Commission.Rate = *override.CommissionRate
	}
	if override.CommissionMin != nil {
		rules.Commission.Minimum = *override.CommissionMin
	}
	if override.StampTax != nil {
		rules.StampTax = *override.StampTax
	}
	if override.SlippageBps != nil {
		rules.SlippageBps = *override.SlippageBps
	}
	if override.AllowMargin != nil {
		rules.AllowMargin = *override.AllowMargin
	}

	if err := rules.Validate(); err != nil {
		return market.Rules{}, err
	}
	return rules, nil
}

// RetryConfig 统一控制行情源重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// AlpacaProviderConfig 描述美股行情源连接信息。
type AlpacaProviderConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// EastMoneyProviderConfig 描述A股行情源连接信息。
type EastMoneyProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CCXTProviderConfig 描述加密货币行情源连接信息。
type CCXTProviderConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// ProvidersConfig 按市场选择行情源。
type ProvidersConfig struct {
	US     AlpacaProviderConfig    `mapstructure:"us"`
	CN     EastMoneyProviderConfig `mapstructure:"cn"`
	Crypto CCXTProviderConfig      `mapstructure:"crypto"`
	Retry  RetryConfig             `mapstructure:"retry"`
}

// StrategyConfig 选择内置策略并设定参数。
type StrategyConfig struct {
	Name           string `mapstructure:"name"`
	FastWindow     int    `mapstructure:"fast_window"`
	SlowWindow     int    `mapstructure:"slow_window"`
	MomentumWindow int    `mapstructure:"momentum_window"`
	TopK           int    `mapstructure:"top_k"`
}

// DatabaseConfig 管理 SQLite 连接，行情缓存与运行记录共用一个库。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// WatchConfig 控制实时信号模式的调度节奏。
type WatchConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	WindowDays int           `mapstructure:"window_days"`
}

// NotifyConfig 描述信号通知通道。
type NotifyConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	Sender    string        `mapstructure:"sender"`
	Recipient string        `mapstructure:"recipient"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Validate 对配置进行基本校验，结算规则等致命项在此拦截。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}

	if len(c.Backtest.Symbols) == 0 {
		err = multierr.Append(err, errors.New("backtest.symbols 至少包含一个标的"))
	}
	kind := market.Kind(c.Backtest.Market)
	if !kind.Valid() {
		err = multierr.Append(err, fmt.Errorf("backtest.market %q 不受支持", c.Backtest.Market))
	} else if _, rulesErr := c.Markets.Rules(kind); rulesErr != nil {
		err = multierr.Append(err, rulesErr)
	}
	if _, parseErr := c.Backtest.StartTime(); parseErr != nil {
		err = multierr.Append(err, fmt.Errorf("backtest.start 无法解析: %w", parseErr))
	}
	if _, parseErr := c.Backtest.EndTime(); parseErr != nil {
		err = multierr.Append(err, fmt.Errorf("backtest.end 无法解析: %w", parseErr))
	}
	if c.Backtest.InitialCash <= 0 {
		err = multierr.Append(err, errors.New("backtest.initial_cash 必须大于0"))
	}

	if c.Strategy.Name == "" {
		err = multierr.Append(err, errors.New("strategy.name 不能为空"))
	}
	if c.Strategy.FastWindow <= 0 || c.Strategy.SlowWindow <= 0 {
		err = multierr.Append(err, errors.New("strategy 窗口参数必须大于0"))
	}
	if c.Strategy.FastWindow >= c.Strategy.SlowWindow {
		err = multierr.Append(err, errors.New("strategy.fast_window 必须小于 slow_window"))
	}
	if c.Strategy.TopK <= 0 {
		err = multierr.Append(err, errors.New("strategy.top_k 必须大于0"))
	}
	if c.Strategy.MomentumWindow <= 0 {
		err = multierr.Append(err, errors.New("strategy.momentum_window 必须大于0"))
	}

	if c.Providers.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("providers.retry.max_attempts 必须大于0"))
	}
	if c.Providers.Retry.MinDelay <= 0 || c.Providers.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("providers.retry.delay 必须为正"))
	}
	if c.Providers.Retry.MinDelay > c.Providers.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("providers.retry.min_delay 不能大于 max_delay"))
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if c.Watch.Interval <= 0 {
		err = multierr.Append(err, errors.New("watch.interval 必须大于0"))
	}
	if c.Watch.WindowDays <= 0 {
		err = multierr.Append(err, errors.New("watch.window_days 必须大于0"))
	}

	if c.Notify.Enabled {
		if c.Notify.APIKey == "" || c.Notify.APISecret == "" {
			err = multierr.Append(err, errors.New("notify 已启用，api_key 与 api_secret 不能为空"))
		}
		if c.Notify.Recipient == "" {
			err = multierr.Append(err, errors.New("notify.recipient 不能为空"))
		}
		if c.Notify.Timeout <= 0 {
			err = multierr.Append(err, errors.New("notify.timeout 必须大于0"))
		}
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
