package provider

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"go.uber.org/zap"

	"finsim/internal/market"
)

// Alpaca 通过 Alpaca Market Data API 提供美股日线。
type Alpaca struct {
	client *marketdata.Client
	logger *zap.Logger
}

// AlpacaConfig 描述 Alpaca 连接参数。
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

// NewAlpaca 创建美股行情适配器。
func NewAlpaca(cfg AlpacaConfig, logger *zap.Logger) *Alpaca {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}

	return &Alpaca{
		client: marketdata.NewClient(opts),
		logger: logger,
	}
}

func (a *Alpaca) Name() string {
	return "alpaca"
}

func (a *Alpaca) Kind() market.Kind {
	return market.KindUS
}

// Fetch 拉取日线。请求全复权价（拆股与分红都折算进价格），
// 与A股前复权口径一致，除息日不会出现无补偿的价格跳空。
// Alpaca 返回区间为 [start, end]，已按时间升序。
func (a *Alpaca) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	raw, err := a.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      market.Day(start),
		End:        market.Day(end).Add(24 * time.Hour),
		Adjustment: marketdata.All,
	})
	if err != nil {
		return nil, &Error{
			Provider:  a.Name(),
			Symbol:    symbol,
			Err:       err,
			Transient: isNetworkError(err),
		}
	}

	bars := make([]market.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, market.Bar{
			Symbol: symbol,
			Date:   market.Day(b.Timestamp),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		})
	}

	a.logger.Debug("alpaca 日线拉取完成",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
	)

	return bars, nil
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
