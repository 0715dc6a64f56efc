// Package provider 定义外部行情源的统一抽象。
// 新增市场只需实现 Provider 接口，缓存层与回测内核无需改动。
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsim/internal/market"
)

// Provider 按日期区间拉取某标的的日线序列，返回值按日期升序。
type Provider interface {
	Name() string
	Kind() market.Kind
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error)
}

// Error 包装行情源调用失败，Transient 表示可重试。
type Error struct {
	Provider  string
	Symbol    string
	Err       error
	Transient bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: 拉取 %s 行情失败: %v", e.Provider, e.Symbol, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient 判断错误是否为可重试的瞬时故障。
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}
