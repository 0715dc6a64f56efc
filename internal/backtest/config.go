package backtest

import (
	"fmt"
	"time"

	"finsim/internal/market"
)

// Config 描述一次回测。
type Config struct {
	Symbols     []string
	Start       time.Time
	End         time.Time
	InitialCash float64
	Rules       market.Rules
}

func (c Config) normalize() Config {
	if c.InitialCash <= 0 {
		c.InitialCash = 1000000
	}
	if c.End.IsZero() {
		c.End = market.Day(time.Now().UTC())
	}
	c.Start = market.Day(c.Start)
	c.End = market.Day(c.End)
	return c
}

func (c Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("backtest: 标的列表不能为空")
	}
	if c.Start.IsZero() {
		return fmt.Errorf("backtest: 必须指定开始日期")
	}
	if c.End.Before(c.Start) {
		return fmt.Errorf("backtest: 结束日期 %s 早于开始日期 %s",
			c.End.Format("2006-01-02"), c.Start.Format("2006-01-02"))
	}
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("backtest: 市场规则无效: %w", err)
	}
	return nil
}
