package repo

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/healthtrack/trend-engine/internal/models"
)

// MySQLConfig locates the record database. DSN wins over the individual fields.
type MySQLConfig struct {
	DSN             string
	Addr            string
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// FormatDSN returns the driver DSN with parseTime forced on so DATE columns scan
// into time.Time.
func (c MySQLConfig) FormatDSN() (string, error) {
	var dsnCfg *mysql.Config
	if c.DSN != "" {
		parsed, err := mysql.ParseDSN(c.DSN)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		dsnCfg = parsed
	} else {
		if c.Addr == "" || c.Database == "" {
			return "", fmt.Errorf("mysql dsn or addr and database are required")
		}
		dsnCfg = mysql.NewConfig()
		dsnCfg.Net = "tcp"
		dsnCfg.Addr = c.Addr
		dsnCfg.User = c.User
		dsnCfg.Passwd = c.Password
		dsnCfg.DBName = c.Database
	}
	dsnCfg.ParseTime = true
	dsnCfg.Loc = time.UTC
	return dsnCfg.FormatDSN(), nil
}

// OpenMySQL opens and pings a MySQL pool.
func OpenMySQL(ctx context.Context, cfg MySQLConfig) (*sql.DB, error) {
	dsn, err := cfg.FormatDSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

const (
	selectDailyValues = `
		SELECT record_date, field, value
		FROM daily_values
		WHERE user_id = ? AND record_date BETWEEN ? AND ?
		ORDER BY record_date`

	selectDailyEntries = `
		SELECT record_date, kind, item_id, severity
		FROM daily_entries
		WHERE user_id = ? AND record_date BETWEEN ? AND ?
		ORDER BY record_date`
)

// MySQLRecordStore reads daily records from the daily_values and daily_entries tables.
type MySQLRecordStore struct {
	db *sql.DB
}

// NewMySQLRecordStore wraps an open pool.
func NewMySQLRecordStore(db *sql.DB) *MySQLRecordStore {
	return &MySQLRecordStore{db: db}
}

// GetRecordsByDateRange assembles one DailyRecord per date that has values or
// entries between start's day and end's day inclusive.
func (s *MySQLRecordStore) GetRecordsByDateRange(ctx context.Context, userID string, start, end time.Time) ([]models.DailyRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("mysql record store not initialised")
	}
	from, to := start.UTC().Format(dateLayout), end.UTC().Format(dateLayout)

	days := make(map[string]*models.DailyRecord)
	var order []string
	recordFor := func(date time.Time) *models.DailyRecord {
		day := date.UTC().Format(dateLayout)
		if r, ok := days[day]; ok {
			return r
		}
		midnight, _ := time.Parse(dateLayout, day)
		r := &models.DailyRecord{Date: midnight}
		days[day] = r
		order = append(order, day)
		return r
	}

	rows, err := s.db.QueryContext(ctx, selectDailyValues, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily values: %w", err)
	}
	for rows.Next() {
		var (
			date  time.Time
			field string
			value float64
		)
		if err := rows.Scan(&date, &field, &value); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan daily value: %w", err)
		}
		r := recordFor(date)
		if r.Values == nil {
			r.Values = make(map[string]float64)
		}
		r.Values[field] = value
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("read daily values: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, selectDailyEntries, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query daily entries: %w", err)
	}
	for rows.Next() {
		var (
			date     time.Time
			kind     string
			itemID   string
			severity float64
		)
		if err := rows.Scan(&date, &kind, &itemID, &severity); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan daily entry: %w", err)
		}
		r := recordFor(date)
		if r.Entries == nil {
			r.Entries = make(map[string][]models.Entry)
		}
		r.Entries[kind] = append(r.Entries[kind], models.Entry{ID: itemID, Severity: severity})
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("read daily entries: %w", err)
	}

	// ISO dates sort chronologically as strings
	sort.Strings(order)
	records := make([]models.DailyRecord, 0, len(order))
	for _, day := range order {
		records = append(records, *days[day])
	}
	return records, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}
