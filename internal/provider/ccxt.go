package provider

import (
	"context"
	"errors"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"finsim/internal/market"
)

// CCXT 通过 ccxt 的 Binance 现货接口提供加密货币日线。
type CCXT struct {
	exchange *ccxt.Binance
	logger   *zap.Logger
}

// CCXTConfig 描述加密货币行情源参数，公开行情无需密钥。
type CCXTConfig struct {
	APIKey    string
	APISecret string
}

// NewCCXT 创建加密货币行情适配器。
func NewCCXT(cfg CCXTConfig, logger *zap.Logger) *CCXT {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinance(userConfig)

	return &CCXT{
		exchange: ex,
		logger:   logger,
	}
}

func (c *CCXT) Name() string {
	return "ccxt-binance"
}

func (c *CCXT) Kind() market.Kind {
	return market.KindCrypto
}

// Fetch 拉取日线K线，时间戳为每日 UTC 零点。
func (c *CCXT) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	since := market.Day(start).UnixMilli()
	limit := int64(market.Day(end).Sub(market.Day(start))/(24*time.Hour)) + 1

	raw, err := c.exchange.FetchOHLCV(
		symbol,
		ccxt.WithFetchOHLCVTimeframe("1d"),
		ccxt.WithFetchOHLCVSince(since),
		ccxt.WithFetchOHLCVLimit(limit),
	)
	if err != nil {
		return nil, &Error{
			Provider:  c.Name(),
			Symbol:    symbol,
			Err:       err,
			Transient: ccxtRetryable(err),
		}
	}

	endDay := market.Day(end)
	bars := make([]market.Bar, 0, len(raw))
	for _, item := range raw {
		day := market.Day(time.UnixMilli(item.Timestamp))
		if day.After(endDay) {
			continue
		}
		bars = append(bars, market.Bar{
			Symbol: symbol,
			Date:   day,
			Open:   item.Open,
			High:   item.High,
			Low:    item.Low,
			Close:  item.Close,
			Volume: item.Volume,
		})
	}

	c.logger.Debug("ccxt 日线拉取完成",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
	)

	return bars, nil
}

func ccxtRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	return false
}
