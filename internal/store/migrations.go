package store

import (
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS stations (
    code TEXT PRIMARY KEY,
    name TEXT,
    country TEXT,
    latitude REAL,
    longitude REAL,
    timezone TEXT
);

CREATE TABLE IF NOT EXISTS nightly_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station_code TEXT NOT NULL,
    night_date TEXT NOT NULL,
    threshold REAL NOT NULL,
    threshold_method TEXT NOT NULL,
    pool_size INTEGER NOT NULL DEFAULT 0,
    pool_nights INTEGER NOT NULL DEFAULT 0,
    window_count INTEGER NOT NULL DEFAULT 0,
    quiet_count INTEGER NOT NULL DEFAULT 0,
    anomalous_count INTEGER NOT NULL DEFAULT 0,
    is_anomalous BOOLEAN NOT NULL DEFAULT FALSE,
    created_at DATETIME NOT NULL,
    UNIQUE(station_code, night_date)
);

CREATE TABLE IF NOT EXISTS night_windows (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    record_id INTEGER NOT NULL,
    mid_time DATETIME NOT NULL,
    p REAL NOT NULL,
    vertical_power REAL NOT NULL,
    horizontal_power REAL NOT NULL,
    disturbed_frac REAL NOT NULL DEFAULT 0,
    is_quiet BOOLEAN,
    is_anomalous BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_night_windows_record ON night_windows(record_id);

CREATE TABLE IF NOT EXISTS anomaly_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station_code TEXT NOT NULL,
    night_date TEXT NOT NULL,
    time_of_anomaly DATETIME NOT NULL,
    day_offset REAL NOT NULL,
    value REAL NOT NULL,
    vertical_power REAL NOT NULL,
    horizontal_power REAL NOT NULL,
    threshold REAL NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_anomaly_log_station_night ON anomaly_log(station_code, night_date);

CREATE TABLE IF NOT EXISTS disturbance_index (
    time DATETIME PRIMARY KEY,
    sym_h REAL NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "Acquisition run auditing",
		SQL: `
CREATE TABLE IF NOT EXISTS acquisition_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station_code TEXT NOT NULL,
    source TEXT NOT NULL,
    day TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    success BOOLEAN,
    samples_read INTEGER,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_acquisition_runs_station_day ON acquisition_runs(station_code, day);
`,
	},
	{
		Version:     3,
		Description: "Per-station vertical band power statistics",
		SQL: `
CREATE TABLE IF NOT EXISTS station_power_stats (
    station_code TEXT PRIMARY KEY,
    mean REAL NOT NULL,
    std_dev REAL NOT NULL,
    sample_count INTEGER NOT NULL,
    updated_at DATETIME NOT NULL
);
`,
	},
	{
		Version:     4,
		Description: "One-row-per-night anomaly master log",
		SQL: `
CREATE TABLE IF NOT EXISTS anomaly_master (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station_code TEXT NOT NULL,
    night_date TEXT NOT NULL,
    time_range TEXT NOT NULL,
    threshold REAL NOT NULL,
    p_values TEXT NOT NULL,
    vertical_values TEXT NOT NULL,
    horizontal_values TEXT NOT NULL,
    time_blocks TEXT NOT NULL,
    remarks TEXT NOT NULL DEFAULT '',
    plot_ref TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    UNIQUE(station_code, night_date)
);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}
