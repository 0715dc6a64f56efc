package backtest

import (
	"context"
	"time"

	"finsim/internal/execution"
	"finsim/internal/ledger"
	"finsim/internal/market"
)

// BarSource 为内核提供日线数据，由行情缓存实现。
type BarSource interface {
	GetSeries(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error)
	Warm(ctx context.Context, symbols []string, start, end time.Time)
}

// Recorder 把回测过程落库。实现方出错只记日志，不中断回测。
type Recorder interface {
	RecordTrade(ctx context.Context, trade ledger.Trade)
	RecordRejection(ctx context.Context, rejection execution.Rejection)
	RecordEquity(ctx context.Context, point ledger.EquityPoint)
}
