package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"rpiweatherd/internal/model"
)

// Counter names of the stats table.
const (
	TotalRequests = "total_requests"
	TotalEntries  = "total_entries"
)

// Counters lists the persisted counters in display order.
var Counters = []struct {
	Name        string
	DisplayName string
}{
	{TotalRequests, "Total count of requests"},
	{TotalEntries, "Total count of entries"},
}

// Table and column names used to build queries.
const (
	DataTable    = "data"
	StatsTable   = "stats"
	EntryColumns = "id, record_date, temperature, humidity, location, device_name"
	DateColumn   = "record_date"
)

// DB wraps the weather database. It is not safe for concurrent writers;
// the storage worker is its only user while the daemon runs.
type DB struct {
	ORM *gorm.DB
}

// Open opens (creating if needed) the database at path, migrates the
// schema and seeds the counters.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	g, err := openORM(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := migrateORM(g); err != nil {
		_ = closeORM(g)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := seedStats(g); err != nil {
		_ = closeORM(g)
		return nil, fmt.Errorf("seed stats: %w", err)
	}
	return &DB{ORM: g}, nil
}

func (d *DB) Close() error { return closeORM(d.ORM) }

// InsertEntry stores a row; the store assigns its ID.
func (d *DB) InsertEntry(ctx context.Context, row *model.DataRow) error {
	return insertEntry(ctx, d.ORM, row)
}

// IncrementStat adds one to the named counter.
func (d *DB) IncrementStat(ctx context.Context, name string) error {
	return incrementStat(ctx, d.ORM, name)
}

// Count runs a single-value COUNT query with bound arguments.
func (d *DB) Count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := d.ORM.WithContext(ctx).Raw(query, args...).Scan(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// SelectEntries runs a query returning data rows.
func (d *DB) SelectEntries(ctx context.Context, query string, args ...any) ([]model.DataRow, error) {
	var rows []model.DataRow
	if err := d.ORM.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SelectStats runs a query returning stats rows.
func (d *DB) SelectStats(ctx context.Context, query string, args ...any) ([]model.StatRow, error) {
	var rows []model.StatRow
	if err := d.ORM.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Stat returns the value of a counter.
func (d *DB) Stat(ctx context.Context, name string) (int64, error) {
	var row model.StatRow
	if err := d.ORM.WithContext(ctx).Where("name = ?", name).First(&row).Error; err != nil {
		return 0, err
	}
	return row.Value, nil
}
