package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"finsim/internal/config"
	"finsim/internal/market"
	"finsim/internal/notify"
	"finsim/internal/strategy"
)

type fakeSource struct {
	series map[string][]market.Bar
}

func (f *fakeSource) GetSeries(_ context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	return market.ClipBars(f.series[symbol], start, end), nil
}

func (f *fakeSource) Warm(context.Context, []string, time.Time, time.Time) {}

type lastDayStrategy struct {
	symbol  string
	lastDay time.Time
}

func (s *lastDayStrategy) Name() string      { return "last_day" }
func (s *lastDayStrategy) Symbols() []string { return []string{s.symbol} }

func (s *lastDayStrategy) OnDay(view *strategy.View, _ strategy.Snapshot) []strategy.Order {
	if !view.Today().Equal(s.lastDay) {
		return nil
	}
	return []strategy.Order{{Symbol: s.symbol, Side: strategy.SideBuy, Quantity: 100, Issued: view.Today()}}
}

type fakeNotifier struct {
	sends []notify.Summary
	err   error
}

func (f *fakeNotifier) Send(_ context.Context, summary notify.Summary) error {
	if f.err != nil {
		return f.err
	}
	f.sends = append(f.sends, summary)
	return nil
}

func recentBars(symbol string, days int) ([]market.Bar, time.Time) {
	end := market.Day(time.Now().UTC())
	bars := make([]market.Bar, days)
	for i := 0; i < days; i++ {
		day := end.AddDate(0, 0, -(days - 1 - i))
		bars[i] = market.Bar{
			Symbol: symbol,
			Date:   day,
			Open:   100,
			High:   101,
			Low:    99,
			Close:  100,
			Volume: 1000,
		}
	}
	return bars, end
}

func newTestWatcher(t *testing.T, notifier notify.Notifier) *Watcher {
	t.Helper()
	bars, lastDay := recentBars("600519.SS", 10)
	source := &fakeSource{series: map[string][]market.Bar{"600519.SS": bars}}
	strat := &lastDayStrategy{symbol: "600519.SS", lastDay: lastDay}

	watcher, err := NewWatcher(
		config.WatchConfig{Interval: time.Hour, WindowDays: 30},
		[]string{"600519.SS"}, 1000000, market.CNRules(),
		source, strat, notifier, nil,
	)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return watcher
}

func TestTickNotifiesFreshSignalsOnce(t *testing.T) {
	notifier := &fakeNotifier{}
	watcher := newTestWatcher(t, notifier)

	if err := watcher.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(notifier.sends) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.sends))
	}
	if len(notifier.sends[0].Signals) != 1 || notifier.sends[0].Signals[0].Symbol != "600519.SS" {
		t.Errorf("unexpected notification payload: %+v", notifier.sends[0])
	}

	// 同一信号第二个周期不重复推送。
	if err := watcher.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if len(notifier.sends) != 1 {
		t.Errorf("signal notified twice, sends=%d", len(notifier.sends))
	}
}

func TestTickRetriesAfterNotifyFailure(t *testing.T) {
	notifier := &fakeNotifier{err: &notify.Error{Err: errors.New("down")}}
	watcher := newTestWatcher(t, notifier)

	// 通知失败不报错，信号也不标记为已发送。
	if err := watcher.Tick(context.Background()); err != nil {
		t.Fatalf("Tick with failing notifier: %v", err)
	}

	notifier.err = nil
	if err := watcher.Tick(context.Background()); err != nil {
		t.Fatalf("Tick after recovery: %v", err)
	}
	if len(notifier.sends) != 1 {
		t.Fatalf("expected signal delivered after recovery, sends=%d", len(notifier.sends))
	}
}
