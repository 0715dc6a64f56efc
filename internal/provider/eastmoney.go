package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"finsim/internal/market"
)

const defaultEastMoneyBaseURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"

// EastMoney 通过东方财富行情接口提供A股前复权日线。
type EastMoney struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// EastMoneyConfig 描述A股行情源参数。
type EastMoneyConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewEastMoney 创建A股行情适配器。
func NewEastMoney(cfg EastMoneyConfig, logger *zap.Logger) *EastMoney {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultEastMoneyBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EastMoney{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (e *EastMoney) Name() string {
	return "eastmoney"
}

func (e *EastMoney) Kind() market.Kind {
	return market.KindCN
}

type eastMoneyResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// Fetch 拉取日线。接口返回形如 "2024-01-02,1685.0,1700.0,1712.0,1680.0,32000"
// 的逗号串，字段顺序为 日期,开,收,高,低,量。
func (e *EastMoney) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	secID, err := secIDOf(symbol)
	if err != nil {
		return nil, &Error{Provider: e.Name(), Symbol: symbol, Err: err}
	}

	q := url.Values{}
	q.Set("secid", secID)
	q.Set("klt", "101") // 日线
	q.Set("fqt", "1")   // 前复权
	q.Set("beg", market.Day(start).Format("20060102"))
	q.Set("end", market.Day(end).Format("20060102"))
	q.Set("fields1", "f1,f2,f3")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &Error{Provider: e.Name(), Symbol: symbol, Err: err}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: e.Name(), Symbol: symbol, Err: err, Transient: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Provider:  e.Name(),
			Symbol:    symbol,
			Err:       fmt.Errorf("http 状态码 %d", resp.StatusCode),
			Transient: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: e.Name(), Symbol: symbol, Err: err, Transient: true}
	}

	var payload eastMoneyResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &Error{Provider: e.Name(), Symbol: symbol, Err: fmt.Errorf("解析响应失败: %w", err)}
	}
	if payload.Data == nil {
		return nil, &Error{Provider: e.Name(), Symbol: symbol, Err: fmt.Errorf("响应缺少 data 字段")}
	}

	bars := make([]market.Bar, 0, len(payload.Data.Klines))
	for _, line := range payload.Data.Klines {
		bar, err := parseKline(symbol, line)
		if err != nil {
			e.logger.Warn("跳过无法解析的K线", zap.String("symbol", symbol), zap.String("line", line), zap.Error(err))
			continue
		}
		bars = append(bars, bar)
	}
	market.SortBars(bars)

	e.logger.Debug("eastmoney 日线拉取完成",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
	)

	return bars, nil
}

// secIDOf 把 "600519.SS" / "000858.SZ" 形式的代码映射为接口的 secid。
// 沪市前缀 1，深市前缀 0。
func secIDOf(symbol string) (string, error) {
	code, suffix, ok := strings.Cut(symbol, ".")
	if !ok {
		// 无后缀时按首位推断：6 开头为沪市。
		if strings.HasPrefix(symbol, "6") {
			return "1." + symbol, nil
		}
		return "0." + symbol, nil
	}
	switch strings.ToUpper(suffix) {
	case "SS", "SH":
		return "1." + code, nil
	case "SZ":
		return "0." + code, nil
	default:
		return "", fmt.Errorf("无法识别的市场后缀 %q", suffix)
	}
}

func parseKline(symbol, line string) (market.Bar, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return market.Bar{}, fmt.Errorf("字段数不足: %d", len(fields))
	}

	date, err := time.Parse("2006-01-02", fields[0])
	if err != nil {
		return market.Bar{}, fmt.Errorf("日期无效: %w", err)
	}

	nums := make([]float64, 5)
	for i, f := range fields[1:6] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("数值无效 %q: %w", f, err)
		}
		nums[i] = v
	}

	return market.Bar{
		Symbol: symbol,
		Date:   market.Day(date),
		Open:   nums[0],
		Close:  nums[1],
		High:   nums[2],
		Low:    nums[3],
		Volume: nums[4],
	}, nil
}
