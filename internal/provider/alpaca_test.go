package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAlpacaFetchRequestsFullyAdjustedBars(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/stocks/bars") {
			t.Errorf("unexpected request path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("symbols"); got != "SPY" {
			t.Errorf("unexpected symbols %q", got)
		}
		// 必须请求全复权价，否则除息日价格下跳而账户收不到分红。
		if got := q.Get("adjustment"); got != "all" {
			t.Errorf("adjustment = %q, want all", got)
		}
		if got := q.Get("timeframe"); got != "1Day" {
			t.Errorf("timeframe = %q, want 1Day", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"bars": {"SPY": [
				{"t":"2024-01-02T05:00:00Z","o":475.2,"h":477.5,"l":474.0,"c":476.8,"v":80000,"n":100,"vw":476.1},
				{"t":"2024-01-03T05:00:00Z","o":476.5,"h":478.0,"l":475.1,"c":477.2,"v":72000,"n":90,"vw":476.9}
			]},
			"next_page_token": null
		}`))
	}))
	defer server.Close()

	a := NewAlpaca(AlpacaConfig{APIKey: "key", APISecret: "secret", BaseURL: server.URL}, nil)
	bars, err := a.Fetch(context.Background(), "SPY", date(2024, 1, 1), date(2024, 1, 5))
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}

	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	first := bars[0]
	if !first.Date.Equal(date(2024, 1, 2)) {
		t.Errorf("unexpected first bar date %v", first.Date)
	}
	if first.Open != 475.2 || first.Close != 476.8 {
		t.Errorf("unexpected OHLC: %+v", first)
	}
	if first.Volume != 80000 {
		t.Errorf("unexpected volume %f", first.Volume)
	}
}

func TestAlpacaFetchCanceledContext(t *testing.T) {
	a := NewAlpaca(AlpacaConfig{APIKey: "key", APISecret: "secret"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.Fetch(ctx, "SPY", date(2024, 1, 1), date(2024, 1, 5)); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}
