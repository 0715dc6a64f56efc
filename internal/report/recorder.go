// Package report 把回测与实盘观察过程中的成交、拒单与净值落库，
// 供外部报表查询。写入失败只记日志，绝不中断回测。
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finsim/internal/execution"
	"finsim/internal/ledger"
	"finsim/internal/store"
	"finsim/internal/strategy"
)

// Recorder 负责持久化回测过程记录。
type Recorder struct {
	db     *sql.DB
	run    string
	logger *zap.Logger
}

// NewRecorder 初始化记录器并创建所需表结构。run 用来区分多次回测。
func NewRecorder(store *store.Store, run string, logger *zap.Logger) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("report: store 不能为空")
	}
	if run == "" {
		run = time.Now().UTC().Format("20060102-150405")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		db:     store.DB(),
		run:    run,
		logger: logger,
	}

	if err := r.initSchema(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *Recorder) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS run_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			amount REAL NOT NULL,
			commission REAL NOT NULL,
			tax REAL NOT NULL,
			issued TEXT NOT NULL,
			filled TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_run_trades_run ON run_trades(run);`,
		`CREATE TABLE IF NOT EXISTS run_rejections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL,
			reason TEXT NOT NULL,
			detail TEXT NOT NULL,
			issued TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS run_equity (
			run TEXT NOT NULL,
			date TEXT NOT NULL,
			cash REAL NOT NULL,
			equity REAL NOT NULL,
			PRIMARY KEY (run, date)
		);`,
	}

	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("report: 初始化表失败: %w", err)
		}
	}
	return nil
}

// Run 返回本次记录使用的运行标识。
func (r *Recorder) Run() string {
	return r.run
}

// RecordTrade 记录一笔成交。
func (r *Recorder) RecordTrade(ctx context.Context, trade ledger.Trade) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO run_trades (run, symbol, side, quantity, price, amount, commission, tax, issued, filled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.run, trade.Symbol, string(trade.Side), trade.Quantity, trade.Price,
		trade.Amount, trade.Commission, trade.Tax,
		trade.Issued.Format("2006-01-02"), trade.Filled.Format("2006-01-02"),
	)
	if err != nil {
		r.logger.Warn("记录成交失败", zap.String("symbol", trade.Symbol), zap.Error(err))
	}
}

// RecordRejection 记录一笔拒单。
func (r *Recorder) RecordRejection(ctx context.Context, rejection execution.Rejection) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO run_rejections (run, symbol, side, quantity, reason, detail, issued)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.run, rejection.Order.Symbol, string(rejection.Order.Side), rejection.Order.Quantity,
		rejection.Reason, rejection.Detail, rejection.Order.Issued.Format("2006-01-02"),
	)
	if err != nil {
		r.logger.Warn("记录拒单失败", zap.String("symbol", rejection.Order.Symbol), zap.Error(err))
	}
}

// RecordEquity 记录一个净值点，同一天重复写入时覆盖。
func (r *Recorder) RecordEquity(ctx context.Context, point ledger.EquityPoint) {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_equity (run, date, cash, equity) VALUES (?, ?, ?, ?)`,
		r.run, point.Date.Format("2006-01-02"), point.Cash, point.Equity,
	)
	if err != nil {
		r.logger.Warn("记录净值失败", zap.Error(err))
	}
}

// ListTrades 返回本次运行的全部成交，按写入顺序排列。
func (r *Recorder) ListTrades(ctx context.Context) ([]ledger.Trade, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT symbol, side, quantity, price, amount, commission, tax, issued, filled
		 FROM run_trades WHERE run = ? ORDER BY id ASC`, r.run)
	if err != nil {
		return nil, fmt.Errorf("report: 查询成交失败: %w", err)
	}
	defer rows.Close()

	var trades []ledger.Trade
	for rows.Next() {
		var (
			t         ledger.Trade
			side      string
			issuedStr string
			filledStr string
		)
		if err := rows.Scan(&t.Symbol, &side, &t.Quantity, &t.Price, &t.Amount, &t.Commission, &t.Tax, &issuedStr, &filledStr); err != nil {
			return nil, fmt.Errorf("report: 读取成交失败: %w", err)
		}
		t.Side = strategy.Side(side)
		if t.Issued, err = time.Parse("2006-01-02", issuedStr); err != nil {
			return nil, fmt.Errorf("report: 成交日期损坏 %q: %w", issuedStr, err)
		}
		if t.Filled, err = time.Parse("2006-01-02", filledStr); err != nil {
			return nil, fmt.Errorf("report: 成交日期损坏 %q: %w", filledStr, err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: 读取成交失败: %w", err)
	}
	return trades, nil
}

// ListEquity 返回本次运行的净值曲线，按日期升序。
func (r *Recorder) ListEquity(ctx context.Context) ([]ledger.EquityPoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT date, cash, equity FROM run_equity WHERE run = ? ORDER BY date ASC`, r.run)
	if err != nil {
		return nil, fmt.Errorf("report: 查询净值失败: %w", err)
	}
	defer rows.Close()

	var curve []ledger.EquityPoint
	for rows.Next() {
		var (
			p       ledger.EquityPoint
			dateStr string
		)
		if err := rows.Scan(&dateStr, &p.Cash, &p.Equity); err != nil {
			return nil, fmt.Errorf("report: 读取净值失败: %w", err)
		}
		if p.Date, err = time.Parse("2006-01-02", dateStr); err != nil {
			return nil, fmt.Errorf("report: 净值日期损坏 %q: %w", dateStr, err)
		}
		curve = append(curve, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: 读取净值失败: %w", err)
	}
	return curve, nil
}
