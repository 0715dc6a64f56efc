// Package bars 实现持久化行情缓存：命中直接返回，未命中委托行情源
// 拉取并落库，保证同一区间重复回测不再产生网络请求。
package bars

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finsim/internal/config"
	"finsim/internal/market"
	"finsim/internal/provider"
	"finsim/internal/store"
)

var (
	// ErrDataUnavailable 表示缓存与行情源都无法提供请求的数据。
	// 调用方应把对应标的当作当日不可交易，而不是终止回测。
	ErrDataUnavailable = errors.New("bars: data unavailable")
)

// Store 是按 (symbol, date) 键持久化的日线缓存。
type Store struct {
	db       *sql.DB
	provider provider.Provider
	retry    config.RetryConfig
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New 创建缓存并初始化表结构。
func New(s *store.Store, prov provider.Provider, retry config.RetryConfig, logger *zap.Logger) (*Store, error) {
	if s == nil {
		return nil, errors.New("bars: store 不能为空")
	}
	if prov == nil {
		return nil, errors.New("bars: provider 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bs := &Store{
		db:       s.DB(),
		provider: prov,
		retry:    retry,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}

	if err := bs.initSchema(); err != nil {
		return nil, err
	}

	return bs, nil
}

func (s *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS bar_cache (
			symbol TEXT NOT NULL,
			date TEXT NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			dividend REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, date)
		);`,
		`CREATE TABLE IF NOT EXISTS bar_cache_range (
			symbol TEXT PRIMARY KEY,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL
		);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("bars: 初始化表结构失败: %w", err)
		}
	}

	return nil
}

// symbolLock 返回指定标的的写锁，序列化同键并发写入。
func (s *Store) symbolLock(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[symbol] = lock
	}
	return lock
}

// GetSeries 返回 [start, end] 区间内按日期升序的日线序列。
// 缓存覆盖请求区间时直接返回；否则拉取、合并并落库。
// 非交易日没有K线属正常现象，不视为缓存损坏。
func (s *Store) GetSeries(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	startDay := market.Day(start)
	endDay := market.Day(end)
	if endDay.Before(startDay) {
		return nil, fmt.Errorf("bars: 区间无效 %s..%s", startDay.Format("2006-01-02"), endDay.Format("2006-01-02"))
	}

	lock := s.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	covered, err := s.coveredRange(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if covered != nil && !covered.start.After(startDay) && !covered.end.Before(endDay) {
		cached, loadErr := s.loadRange(ctx, symbol, startDay, endDay)
		if loadErr == nil {
			return cached, nil
		}
		// 缓存损坏按未命中处理：清掉该标的后重新拉取。
		s.logger.Warn("缓存条目损坏，将重新拉取",
			zap.String("symbol", symbol),
			zap.Error(loadErr),
		)
		if purgeErr := s.purge(ctx, symbol); purgeErr != nil {
			return nil, purgeErr
		}
		covered = nil
	}

	// 未命中（或部分命中）：拉取整个请求区间并与已有数据合并。
	fetchStart := startDay
	fetchEnd := endDay
	if covered != nil {
		if covered.start.Before(fetchStart) {
			fetchStart = covered.start
		}
		if covered.end.After(fetchEnd) {
			fetchEnd = covered.end
		}
	}

	fetched, fetchErr := s.fetchWithRetry(ctx, symbol, fetchStart, fetchEnd)
	if fetchErr != nil {
		// 行情源不可用时退回已有缓存，能给多少给多少。
		cached, loadErr := s.loadRange(ctx, symbol, startDay, endDay)
		if loadErr == nil && len(cached) > 0 {
			s.logger.Warn("行情源不可用，使用部分缓存数据",
				zap.String("symbol", symbol),
				zap.Int("bars", len(cached)),
				zap.Error(fetchErr),
			)
			return cached, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrDataUnavailable, symbol, fetchErr)
	}

	if err := s.persist(ctx, symbol, fetched, fetchStart, fetchEnd); err != nil {
		return nil, err
	}

	bars, err := s.loadRange(ctx, symbol, startDay, endDay)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: %s 在 %s..%s 无行情", ErrDataUnavailable,
			symbol, startDay.Format("2006-01-02"), endDay.Format("2006-01-02"))
	}
	return bars, nil
}

// Warm 并行预取多个标的。单个标的失败只记日志，不阻断其余预取。
func (s *Store) Warm(ctx context.Context, symbols []string, start, end time.Time) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)

	for _, symbol := range symbols {
		sym := symbol
		group.Go(func() error {
			if _, err := s.GetSeries(groupCtx, sym, start, end); err != nil {
				s.logger.Warn("预取行情失败", zap.String("symbol", sym), zap.Error(err))
			}
			return nil
		})
	}

	_ = group.Wait()
}

func (s *Store) fetchWithRetry(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	attempts := s.retry.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := s.retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := s.retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var bars []market.Bar
		bars, err = s.provider.Fetch(ctx, symbol, start, end)
		if err == nil {
			if attempt > 1 {
				s.logger.Info("行情源重试后成功",
					zap.String("symbol", symbol),
					zap.Int("attempts", attempt),
				)
			}
			return bars, nil
		}

		if !provider.IsTransient(err) || attempt >= attempts {
			return nil, err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		s.logger.Warn("行情源调用失败，等待重试",
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return nil, err
}

type coverage struct {
	start time.Time
	end   time.Time
}

func (s *Store) coveredRange(ctx context.Context, symbol string) (*coverage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT start_date, end_date FROM bar_cache_range WHERE symbol = ?`, symbol)

	var startStr, endStr string
	switch err := row.Scan(&startStr, &endStr); {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	default:
		return nil, fmt.Errorf("bars: 查询缓存范围失败: %w", err)
	}

	start, err1 := time.Parse("2006-01-02", startStr)
	end, err2 := time.Parse("2006-01-02", endStr)
	if err1 != nil || err2 != nil {
		// 范围记录损坏等同于没有记录。
		s.logger.Warn("缓存范围记录损坏", zap.String("symbol", symbol))
		return nil, nil
	}

	return &coverage{start: market.Day(start), end: market.Day(end)}, nil
}

// persist 合并写入K线并把覆盖范围扩展为请求区间。覆盖范围记录的是
// 请求区间而非实际返回区间：区间尾部的非交易日不会导致反复拉取。
func (s *Store) persist(ctx context.Context, symbol string, bars []market.Bar, start, end time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bars: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, b := range bars {
		if _, execErr := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO bar_cache (symbol, date, open, high, low, close, volume, dividend)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			symbol, b.Date.Format("2006-01-02"), b.Open, b.High, b.Low, b.Close, b.Volume, b.Dividend,
		); execErr != nil {
			err = fmt.Errorf("bars: 写入K线失败: %w", execErr)
			return err
		}
	}

	if _, execErr := tx.ExecContext(ctx,
		`INSERT INTO bar_cache_range (symbol, start_date, end_date) VALUES (?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET
		   start_date = MIN(start_date, excluded.start_date),
		   end_date = MAX(end_date, excluded.end_date)`,
		symbol, start.Format("2006-01-02"), end.Format("2006-01-02"),
	); execErr != nil {
		err = fmt.Errorf("bars: 更新缓存范围失败: %w", execErr)
		return err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return fmt.Errorf("bars: 提交事务失败: %w", commitErr)
	}

	return nil
}

func (s *Store) loadRange(ctx context.Context, symbol string, start, end time.Time) ([]market.Bar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, open, high, low, close, volume, dividend
		 FROM bar_cache
		 WHERE symbol = ? AND date >= ? AND date <= ?
		 ORDER BY date ASC`,
		symbol, start.Format("2006-01-02"), end.Format("2006-01-02"),
	)
	if err != nil {
		return nil, fmt.Errorf("bars: 查询缓存失败: %w", err)
	}
	defer rows.Close()

	var bars []market.Bar
	for rows.Next() {
		var (
			dateStr string
			b       market.Bar
		)
		if scanErr := rows.Scan(&dateStr, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Dividend); scanErr != nil {
			return nil, fmt.Errorf("bars: 缓存行损坏: %w", scanErr)
		}
		date, parseErr := time.Parse("2006-01-02", dateStr)
		if parseErr != nil {
			return nil, fmt.Errorf("bars: 缓存日期损坏 %q: %w", dateStr, parseErr)
		}
		b.Symbol = symbol
		b.Date = market.Day(date)
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bars: 读取缓存失败: %w", err)
	}

	return bars, nil
}

func (s *Store) purge(ctx context.Context, symbol string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bar_cache WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("bars: 清理缓存失败: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bar_cache_range WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("bars: 清理缓存范围失败: %w", err)
	}
	return nil
}
