package market

import (
	"sort"
	"time"
)

// Kind 表示市场类型，决定结算与费用规则。
type Kind string

const (
	KindUS     Kind = "us"
	KindCN     Kind = "cn"
	KindCrypto Kind = "crypto"
)

// Valid 判断市场类型是否受支持。
func (k Kind) Valid() bool {
	switch k {
	case KindUS, KindCN, KindCrypto:
		return true
	}
	return false
}

// Bar 代表单个标的的日线行情，按 (Symbol, Date) 唯一。
// Dividend 为除息日每股现金分红，非除息日为 0。
type Bar struct {
	Symbol   string
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Dividend float64
}

// Day 将时间归一化为 UTC 零点，作为日线主键。
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// SortBars 按日期升序排列。
func SortBars(bars []Bar) {
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Date.Before(bars[j].Date)
	})
}

// ClipBars 返回位于 [start, end] 闭区间内的子序列，输入须已按日期升序。
func ClipBars(bars []Bar, start, end time.Time) []Bar {
	s := Day(start)
	e := Day(end)
	lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Date.Before(s) })
	hi := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(e) })
	if lo >= hi {
		return nil
	}
	out := make([]Bar, hi-lo)
	copy(out, bars[lo:hi])
	return out
}
