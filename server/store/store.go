// Package store persists daily and minute bars in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yitech/stockview/model/candle"
)

// Periods are the minute bar widths the minute table accepts.
var Periods = []string{"1", "5", "15", "30", "60"}

var ErrInvalidPeriod = errors.New("store: invalid period")

// Store is a SQLite-backed bar store. Timestamps are kept as local wall-clock
// text in the store's zone.
type Store struct {
	db  *sql.DB
	loc *time.Location
	mu  sync.Mutex
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = candle.DefaultZone
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("store: create dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writes.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: set WAL mode: %w", err)
		}
	}

	s := &Store{db: db, loc: loc}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS daily_kline (
			stock_code TEXT,
			date       DATE,
			open REAL, high REAL, low REAL, close REAL,
			volume INTEGER, amount REAL,
			PRIMARY KEY (stock_code, date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_stock_date ON daily_kline(stock_code, date)`,

		`CREATE TABLE IF NOT EXISTS minute_kline (
			stock_code TEXT,
			period     TEXT,
			datetime   DATETIME,
			open REAL, high REAL, low REAL, close REAL,
			volume INTEGER,
			PRIMARY KEY (stock_code, period, datetime)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_minute_stock_period_datetime ON minute_kline(stock_code, period, datetime)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// UpsertDaily writes daily bars, replacing any bar already stored for the
// same date. amount is close×volume.
func (s *Store) UpsertDaily(code string, bars []candle.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO daily_kline
			(stock_code, date, open, high, low, close, volume, amount)
			VALUES (?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range bars {
			if _, err := stmt.Exec(code, c.Time.In(s.loc).Format(candle.DateLayout),
				c.Open, c.High, c.Low, c.Close, c.Volume, c.Close*float64(c.Volume)); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertMinute writes minute bars of the given period.
func (s *Store) UpsertMinute(code, period string, bars []candle.Candle) error {
	if !slices.Contains(Periods, period) {
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO minute_kline
			(stock_code, period, datetime, open, high, low, close, volume)
			VALUES (?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range bars {
			if _, err := stmt.Exec(code, period, c.Time.In(s.loc).Format(candle.DateTimeLayout),
				c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
				return err
			}
		}
		return nil
	})
}

// Daily returns the daily bars with start ≤ date ≤ end, oldest first.
func (s *Store) Daily(code string, start, end time.Time) ([]candle.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT date, open, high, low, close, volume FROM daily_kline
		WHERE stock_code = ? AND date >= ? AND date <= ?
		ORDER BY date`,
		code, start.In(s.loc).Format(candle.DateLayout), end.In(s.loc).Format(candle.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("store: query daily: %w", err)
	}
	return s.scan(rows, candle.DateLayout)
}

// Minute returns the bars of period with start ≤ datetime ≤ end, oldest first.
func (s *Store) Minute(code, period string, start, end time.Time) ([]candle.Candle, error) {
	if !slices.Contains(Periods, period) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT datetime, open, high, low, close, volume FROM minute_kline
		WHERE stock_code = ? AND period = ? AND datetime >= ? AND datetime <= ?
		ORDER BY datetime`,
		code, period,
		start.In(s.loc).Format(candle.DateTimeLayout), end.In(s.loc).Format(candle.DateTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("store: query minute: %w", err)
	}
	return s.scan(rows, candle.DateTimeLayout)
}

// Codes lists every stock code with daily bars.
func (s *Store) Codes() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT DISTINCT stock_code FROM daily_kline ORDER BY stock_code`)
	if err != nil {
		return nil, fmt.Errorf("store: query codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("store: scan code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ── internal ─────────────────────────────────────────────────────────────────

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: write: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (s *Store) scan(rows *sql.Rows, layout string) ([]candle.Candle, error) {
	defer rows.Close()

	var out []candle.Candle
	for rows.Next() {
		var (
			stamp string
			c     candle.Candle
		)
		if err := rows.Scan(&stamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		t, err := parseStamp(stamp, layout, s.loc)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		c.Time = t
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	return out, nil
}

// parseStamp also accepts the RFC 3339 form the driver returns for DATE and
// DATETIME columns.
func parseStamp(s, layout string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(layout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	// The stored text was wall-clock time in loc.
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}
