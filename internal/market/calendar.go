package market

import (
	"sort"
	"time"
)

// Calendar 维护升序去重的交易日序列，回测主循环以此推进。
type Calendar struct {
	days []time.Time
}

// NewCalendar 从日期集合构造交易日历，自动归一化、去重并排序。
func NewCalendar(days []time.Time) *Calendar {
	seen := make(map[time.Time]struct{}, len(days))
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		day := Day(d)
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return &Calendar{days: out}
}

// CalendarFromBars 取多个标的行情日期的并集作为交易日历。
// 使用并集而非交集：单个标的缺数据不应把整个交易日从循环中剔除。
func CalendarFromBars(series ...[]Bar) *Calendar {
	var days []time.Time
	for _, bars := range series {
		for _, b := range bars {
			days = append(days, b.Date)
		}
	}
	return NewCalendar(days)
}

// Days 返回交易日序列副本。
func (c *Calendar) Days() []time.Time {
	out := make([]time.Time, len(c.days))
	copy(out, c.days)
	return out
}

// Len 返回交易日数量。
func (c *Calendar) Len() int {
	return len(c.days)
}

// Contains 判断指定日期是否为交易日。
func (c *Calendar) Contains(t time.Time) bool {
	day := Day(t)
	i := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(day) })
	return i < len(c.days) && c.days[i].Equal(day)
}

// Next 返回严格晚于 t 的第一个交易日，不存在时第二个返回值为 false。
func (c *Calendar) Next(t time.Time) (time.Time, bool) {
	day := Day(t)
	i := sort.Search(len(c.days), func(i int) bool { return c.days[i].After(day) })
	if i >= len(c.days) {
		return time.Time{}, false
	}
	return c.days[i], true
}

// Clip 返回位于 [start, end] 区间内的交易日历。
func (c *Calendar) Clip(start, end time.Time) *Calendar {
	s := Day(start)
	e := Day(end)
	lo := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(s) })
	hi := sort.Search(len(c.days), func(i int) bool { return c.days[i].After(e) })
	if lo >= hi {
		return &Calendar{}
	}
	out := make([]time.Time, hi-lo)
	copy(out, c.days[lo:hi])
	return &Calendar{days: out}
}
