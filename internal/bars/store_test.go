package bars

import (
	"context"
	"errors"
	"testing"
	"time"

	"finsim/internal/config"
	"finsim/internal/market"
	"finsim/internal/provider"
	"finsim/internal/store"
)

type fakeProvider struct {
	bars  []market.Bar
	err   error
	calls int

	// failFirst 表示前 N 次调用返回瞬时错误。
	failFirst int
}

func (f *fakeProvider) Name() string      { return "fake" }
func (f *fakeProvider) Kind() market.Kind { return market.KindCN }

func (f *fakeProvider) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	f.calls++
	if f.failFirst > 0 {
		f.failFirst--
		return nil, &provider.Error{Provider: "fake", Symbol: symbol, Err: errors.New("timeout"), Transient: true}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := market.ClipBars(f.bars, start, end)
	return out, nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seriesWithGap() []market.Bar {
	// 周五、周一：中间的周末是正常的行情空洞。
	return []market.Bar{
		{Symbol: "600519.SS", Date: date(2024, 3, 7), Open: 100, High: 103, Low: 99, Close: 102, Volume: 1000},
		{Symbol: "600519.SS", Date: date(2024, 3, 8), Open: 102, High: 105, Low: 101, Close: 104, Volume: 1100},
		{Symbol: "600519.SS", Date: date(2024, 3, 11), Open: 104, High: 106, Low: 103, Close: 105, Volume: 900},
	}
}

func newTestStore(t *testing.T, prov provider.Provider) *Store {
	t.Helper()
	sqlStore, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("init sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })

	retry := config.RetryConfig{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	bs, err := New(sqlStore, prov, retry, nil)
	if err != nil {
		t.Fatalf("init bar store: %v", err)
	}
	return bs
}

func TestGetSeriesCachesFetchedBars(t *testing.T) {
	prov := &fakeProvider{bars: seriesWithGap()}
	bs := newTestStore(t, prov)
	ctx := context.Background()

	first, err := bs.GetSeries(ctx, "600519.SS", date(2024, 3, 7), date(2024, 3, 11))
	if err != nil {
		t.Fatalf("first GetSeries: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 bars, got %d", len(first))
	}
	if prov.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", prov.calls)
	}

	// 第二次调用完全由缓存供给，即使行情源彻底不可用。
	prov.err = &provider.Error{Provider: "fake", Symbol: "600519.SS", Err: errors.New("outage"), Transient: false}
	second, err := bs.GetSeries(ctx, "600519.SS", date(2024, 3, 7), date(2024, 3, 11))
	if err != nil {
		t.Fatalf("second GetSeries: %v", err)
	}
	if prov.calls != 1 {
		t.Errorf("cache hit should not call provider, calls=%d", prov.calls)
	}

	if len(second) != len(first) {
		t.Fatalf("cache round-trip length mismatch: %d vs %d", len(second), len(first))
	}
	for i := range first {
		if second[i] != first[i] {
			t.Errorf("bar %d mismatch after reload: %+v vs %+v", i, second[i], first[i])
		}
	}
}

func TestGetSeriesGapIsNotCorruption(t *testing.T) {
	prov := &fakeProvider{bars: seriesWithGap()}
	bs := newTestStore(t, prov)
	ctx := context.Background()

	// 请求区间覆盖周末，返回的K线有空洞。
	if _, err := bs.GetSeries(ctx, "600519.SS", date(2024, 3, 7), date(2024, 3, 11)); err != nil {
		t.Fatalf("GetSeries: %v", err)
	}

	// 周末子区间仍算缓存命中，不应触发再次拉取。
	bars, err := bs.GetSeries(ctx, "600519.SS", date(2024, 3, 8), date(2024, 3, 11))
	if err != nil {
		t.Fatalf("sub-range GetSeries: %v", err)
	}
	if prov.calls != 1 {
		t.Errorf("gap in cached range should not refetch, calls=%d", prov.calls)
	}
	if len(bars) != 2 {
		t.Errorf("expected 2 bars in sub-range, got %d", len(bars))
	}
}

func TestGetSeriesRetriesTransientErrors(t *testing.T) {
	prov := &fakeProvider{bars: seriesWithGap(), failFirst: 2}
	bs := newTestStore(t, prov)

	bars, err := bs.GetSeries(context.Background(), "600519.SS", date(2024, 3, 7), date(2024, 3, 11))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if prov.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", prov.calls)
	}
	if len(bars) != 3 {
		t.Errorf("expected 3 bars, got %d", len(bars))
	}
}

func TestGetSeriesExhaustedRetriesBecomeDataUnavailable(t *testing.T) {
	prov := &fakeProvider{failFirst: 100}
	bs := newTestStore(t, prov)

	_, err := bs.GetSeries(context.Background(), "NOPE", date(2024, 3, 7), date(2024, 3, 11))
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if prov.calls != 3 {
		t.Errorf("expected bounded attempts (3), got %d", prov.calls)
	}
}

func TestGetSeriesEmptyRangeIsDataUnavailable(t *testing.T) {
	prov := &fakeProvider{bars: seriesWithGap()}
	bs := newTestStore(t, prov)

	_, err := bs.GetSeries(context.Background(), "600519.SS", date(2023, 1, 1), date(2023, 1, 5))
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable for empty range, got %v", err)
	}
}

func TestGetSeriesCorruptedCacheRefetches(t *testing.T) {
	prov := &fakeProvider{bars: seriesWithGap()}
	bs := newTestStore(t, prov)
	ctx := context.Background()

	if _, err := bs.GetSeries(ctx, "600519.SS", date(2024, 3, 7), date(2024, 3, 11)); err != nil {
		t.Fatalf("GetSeries: %v", err)
	}

	// 人为破坏一行缓存的日期字段。
	if _, err := bs.db.Exec(`UPDATE bar_cache SET date = 'garbage' WHERE symbol = '600519.SS' AND date = '2024-03-08'`); err != nil {
		t.Fatalf("corrupt cache: %v", err)
	}

	bars, err := bs.GetSeries(ctx, "600519.SS", date(2024, 3, 7), date(2024, 3, 11))
	if err != nil {
		t.Fatalf("GetSeries after corruption: %v", err)
	}
	if prov.calls != 2 {
		t.Errorf("corruption should force one refetch, calls=%d", prov.calls)
	}
	if len(bars) != 3 {
		t.Errorf("expected 3 bars after refetch, got %d", len(bars))
	}
}
