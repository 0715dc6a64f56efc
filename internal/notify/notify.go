// Package notify 是实时信号的出口：汇总当日信号并通过邮件通道发出。
// 通知失败不影响主流程，调用方记日志后在下个周期重试。
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"finsim/internal/strategy"
)

// Summary 是一次通知的内容。
type Summary struct {
	Subject     string
	Signals     []strategy.Order
	GeneratedAt time.Time
}

// Body 渲染通知正文。
func (s Summary) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "信号时间: %s\n\n", s.GeneratedAt.Format("2006-01-02 15:04:05"))
	if len(s.Signals) == 0 {
		b.WriteString("今日无交易信号。\n")
		return b.String()
	}
	for _, signal := range s.Signals {
		action := "买入"
		if signal.Side == strategy.SideSell {
			action = "卖出"
		}
		fmt.Fprintf(&b, "%s %s %.0f (信号日 %s)\n",
			action, signal.Symbol, signal.Quantity, signal.Issued.Format("2006-01-02"))
	}
	return b.String()
}

// Error 表示一次失败的通知投递。
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("notify: 投递失败，状态码 %d", e.StatusCode)
	}
	return fmt.Sprintf("notify: 投递失败: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Notifier 发送通知。
type Notifier interface {
	Send(ctx context.Context, summary Summary) error
}

// Nop 丢弃所有通知，通知未启用时使用。
type Nop struct{}

// Send 直接返回 nil。
func (Nop) Send(context.Context, Summary) error {
	return nil
}
