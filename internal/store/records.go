package store

import (
	"database/sql"
	"math"
	"time"

	"github.com/mfield/pranight/internal/models"
)

// SaveNightlyRecord persists one station-night outcome. Re-saving the
// same (station, night) replaces the previous record and its windows,
// which keeps forced re-runs idempotent.
func (s *Store) SaveNightlyRecord(rec *models.NightlyRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO nightly_records (station_code, night_date, threshold, threshold_method, pool_size, pool_nights, window_count, quiet_count, anomalous_count, is_anomalous, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_code, night_date) DO UPDATE SET
			threshold = excluded.threshold,
			threshold_method = excluded.threshold_method,
			pool_size = excluded.pool_size,
			pool_nights = excluded.pool_nights,
			window_count = excluded.window_count,
			quiet_count = excluded.quiet_count,
			anomalous_count = excluded.anomalous_count,
			is_anomalous = excluded.is_anomalous,
			created_at = excluded.created_at
	`, rec.StationCode, fmtDate(rec.NightDate), rec.Threshold, rec.ThresholdMethod,
		rec.PoolSize, rec.PoolNights, rec.WindowCount, rec.QuietCount,
		rec.AnomalousCount, rec.IsAnomalous, rec.CreatedAt); err != nil {
		return err
	}

	if err := tx.QueryRow(
		`SELECT id FROM nightly_records WHERE station_code = ? AND night_date = ?`,
		rec.StationCode, fmtDate(rec.NightDate),
	).Scan(&rec.ID); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM night_windows WHERE record_id = ?`, rec.ID); err != nil {
		return err
	}

	for _, w := range rec.Windows {
		if _, err := tx.Exec(`
			INSERT INTO night_windows (record_id, mid_time, p, vertical_power, horizontal_power, disturbed_frac, is_quiet, is_anomalous)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, w.MidTime.UTC(), w.P, w.VerticalPower, w.HorizontalPower,
			w.DisturbedFrac, w.IsQuiet, w.IsAnomalous); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetNightlyRecord returns the persisted record for (station, night),
// or nil if the night has not been processed.
func (s *Store) GetNightlyRecord(station string, night time.Time) (*models.NightlyRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, station_code, night_date, threshold, threshold_method, pool_size, pool_nights, window_count, quiet_count, anomalous_count, is_anomalous, created_at
		FROM nightly_records
		WHERE station_code = ? AND night_date = ?
	`, station, fmtDate(night))

	var rec models.NightlyRecord
	var nightStr string
	err := row.Scan(&rec.ID, &rec.StationCode, &nightStr, &rec.Threshold,
		&rec.ThresholdMethod, &rec.PoolSize, &rec.PoolNights, &rec.WindowCount,
		&rec.QuietCount, &rec.AnomalousCount, &rec.IsAnomalous, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.NightDate, err = parseDate(nightStr)
	if err != nil {
		return nil, err
	}

	rec.Windows, err = s.loadWindows(rec.ID)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) loadWindows(recordID int64) ([]models.WindowSample, error) {
	rows, err := s.db.Query(`
		SELECT mid_time, p, vertical_power, horizontal_power, disturbed_frac, is_quiet, is_anomalous
		FROM night_windows
		WHERE record_id = ?
		ORDER BY mid_time
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []models.WindowSample
	for rows.Next() {
		var w models.WindowSample
		var quiet sql.NullBool
		if err := rows.Scan(&w.MidTime, &w.P, &w.VerticalPower, &w.HorizontalPower,
			&w.DisturbedFrac, &quiet, &w.IsAnomalous); err != nil {
			return nil, err
		}
		w.IsQuiet = quiet.Valid && quiet.Bool
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

// QuietPoolValues collects finite quiet-window P values from up to
// daysBack prior processed nights, most recent night first. Nights
// whose windows predate the quiet flag fall back to the non-anomalous
// windows as a quiet proxy. The second return is the number of nights
// that contributed at least one value.
func (s *Store) QuietPoolValues(station string, night time.Time, daysBack int) ([]float64, int, error) {
	var values []float64
	nights := 0

	for d := 1; d <= daysBack; d++ {
		day := night.AddDate(0, 0, -d)

		var recID int64
		err := s.db.QueryRow(
			`SELECT id FROM nightly_records WHERE station_code = ? AND night_date = ?`,
			station, fmtDate(day),
		).Scan(&recID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, 0, err
		}

		rows, err := s.db.Query(
			`SELECT p, is_quiet, is_anomalous FROM night_windows WHERE record_id = ? ORDER BY mid_time`,
			recID,
		)
		if err != nil {
			return nil, 0, err
		}

		type windowRow struct {
			p     float64
			quiet sql.NullBool
			anom  bool
		}
		var ws []windowRow
		for rows.Next() {
			var r windowRow
			if err := rows.Scan(&r.p, &r.quiet, &r.anom); err != nil {
				rows.Close()
				return nil, 0, err
			}
			ws = append(ws, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, 0, err
		}
		if len(ws) == 0 {
			continue
		}

		hasQuiet := false
		for _, r := range ws {
			if r.quiet.Valid {
				hasQuiet = true
				break
			}
		}

		kept := 0
		for _, r := range ws {
			var use bool
			if hasQuiet {
				use = r.quiet.Valid && r.quiet.Bool
			} else {
				use = !r.anom
			}
			if use && !math.IsNaN(r.p) && !math.IsInf(r.p, 0) {
				values = append(values, r.p)
				kept++
			}
		}
		if kept > 0 {
			nights++
		}
	}

	return values, nights, nil
}

// AnomalousNights lists the nights flagged anomalous in the closed
// range [from, to], oldest first.
func (s *Store) AnomalousNights(station string, from, to time.Time) ([]time.Time, error) {
	rows, err := s.db.Query(`
		SELECT night_date FROM nightly_records
		WHERE station_code = ? AND is_anomalous AND night_date >= ? AND night_date <= ?
		ORDER BY night_date
	`, station, fmtDate(from), fmtDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nights []time.Time
	for rows.Next() {
		var nightStr string
		if err := rows.Scan(&nightStr); err != nil {
			return nil, err
		}
		night, err := parseDate(nightStr)
		if err != nil {
			return nil, err
		}
		nights = append(nights, night)
	}
	return nights, rows.Err()
}

// DeleteNightsBefore removes a station's nightly records (and their
// windows) older than the cutoff date. The anomaly log is cumulative
// and is never pruned here. Returns the number of nights removed.
func (s *Store) DeleteNightsBefore(station string, cutoff time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM night_windows WHERE record_id IN (
			SELECT id FROM nightly_records WHERE station_code = ? AND night_date < ?
		)
	`, station, fmtDate(cutoff)); err != nil {
		return 0, err
	}

	res, err := tx.Exec(
		`DELETE FROM nightly_records WHERE station_code = ? AND night_date < ?`,
		station, fmtDate(cutoff),
	)
	if err != nil {
		return 0, err
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return deleted, tx.Commit()
}
