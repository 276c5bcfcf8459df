package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"minfx/internal/market"
)

// Store 按 symbol@timeframe 一个 sqlite 文件缓存 K 线。
// 相同时间戳的重复写入直接覆盖，读出必为升序。
type Store struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewStore(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("cache dir 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *Store) db(symbol, timeframe string) (*sql.DB, error) {
	if symbol == "" || timeframe == "" {
		return nil, fmt.Errorf("symbol/timeframe 不能为空")
	}
	key := normalizeSymbol(symbol) + "@" + strings.ToLower(timeframe)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, nil
	}
	path := s.dbPath(symbol, timeframe)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.dbs[key] = db
	return db, nil
}

func (s *Store) dbPath(symbol, timeframe string) string {
	dir := filepath.Join(s.root, normalizeSymbol(symbol))
	return filepath.Join(dir, strings.ToLower(timeframe)+".db")
}

// normalizeSymbol 把 "USD/JPY" 转成文件系统安全的 "USDJPY"。
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// InsertBars 批量写入（重复 bar_time 覆盖）。
func (s *Store) InsertBars(ctx context.Context, symbol, timeframe string, bars market.Bars) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (bar_time, open, high, low, close)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bar_time) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, b.Time.UTC().Unix(), b.Open, b.High, b.Low, b.Close); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return count, nil
}

// QueryBars 读取指定区间（含边界）的 K 线，升序返回。
// start/end 为零值时不限制对应边界。
func (s *Store) QueryBars(ctx context.Context, symbol, timeframe string, start, end time.Time, limit int) (market.Bars, error) {
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	lo := int64(0)
	hi := int64(1<<62 - 1)
	if !start.IsZero() {
		lo = start.UTC().Unix()
	}
	if !end.IsZero() {
		hi = end.UTC().Unix()
	}
	query := `SELECT bar_time, open, high, low, close FROM bars WHERE bar_time BETWEEN ? AND ? ORDER BY bar_time`
	args := []any{lo, hi}
	if limit > 0 {
		// 取区间末尾 limit 根再翻回升序。
		query = `SELECT bar_time, open, high, low, close FROM (
			SELECT bar_time, open, high, low, close FROM bars
			WHERE bar_time BETWEEN ? AND ? ORDER BY bar_time DESC LIMIT ?
		) ORDER BY bar_time`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out market.Bars
	for rows.Next() {
		var ts int64
		var b market.Bar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close); err != nil {
			return nil, err
		}
		b.Time = time.Unix(ts, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// LatestBarTime 返回缓存中最新一根的时间；无数据时返回零值。
func (s *Store) LatestBarTime(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	db, err := s.db(symbol, timeframe)
	if err != nil {
		return time.Time{}, err
	}
	var ts sql.NullInt64
	row := db.QueryRowContext(ctx, `SELECT MAX(bar_time) FROM bars`)
	if err := row.Scan(&ts); err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS bars (
		bar_time INTEGER PRIMARY KEY,
		open     REAL NOT NULL,
		high     REAL NOT NULL,
		low      REAL NOT NULL,
		close    REAL NOT NULL
	);`)
	return err
}
