package store

import (
	"time"

	"github.com/mfield/pranight/internal/models"
)

// AppendAnomalies adds rows to the cumulative anomaly log.
func (s *Store) AppendAnomalies(events []models.AnomalyEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, ev := range events {
		created := ev.CreatedAt
		if created.IsZero() {
			created = now
		}
		if _, err := tx.Exec(`
			INSERT INTO anomaly_log (station_code, night_date, time_of_anomaly, day_offset, value, vertical_power, horizontal_power, threshold, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, ev.StationCode, fmtDate(ev.NightDate), ev.Time.UTC(), ev.DayOffset,
			ev.Value, ev.VerticalPower, ev.HorizontalPower, ev.Threshold, created); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteAnomalies removes the log rows for one station-night. Used
// before re-appending on a forced re-run so the log stays free of
// duplicates.
func (s *Store) DeleteAnomalies(station string, night time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM anomaly_log WHERE station_code = ? AND night_date = ?`,
		station, fmtDate(night),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertAnomalySummary writes the master-log row for one flagged
// station-night. Re-saving the same night replaces the row.
func (s *Store) UpsertAnomalySummary(sum *models.AnomalySummary) error {
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO anomaly_master (station_code, night_date, time_range, threshold, p_values, vertical_values, horizontal_values, time_blocks, remarks, plot_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_code, night_date) DO UPDATE SET
			time_range = excluded.time_range,
			threshold = excluded.threshold,
			p_values = excluded.p_values,
			vertical_values = excluded.vertical_values,
			horizontal_values = excluded.horizontal_values,
			time_blocks = excluded.time_blocks,
			remarks = excluded.remarks,
			plot_ref = excluded.plot_ref,
			created_at = excluded.created_at
	`, sum.StationCode, fmtDate(sum.NightDate), sum.TimeRange, sum.Threshold,
		sum.Values, sum.VerticalValues, sum.HorizontalValues, sum.TimeBlocks,
		sum.Remarks, sum.PlotRef, sum.CreatedAt)
	return err
}

// DeleteAnomalySummary removes the master-log row for one
// station-night, if any. Used when a forced re-run clears the flag.
func (s *Store) DeleteAnomalySummary(station string, night time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM anomaly_master WHERE station_code = ? AND night_date = ?`,
		station, fmtDate(night),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListAnomalySummaries returns the most recent master-log rows, newest
// night first. An empty station code lists all stations.
func (s *Store) ListAnomalySummaries(station string, limit int) ([]models.AnomalySummary, error) {
	query := `
		SELECT id, station_code, night_date, time_range, threshold, p_values, vertical_values, horizontal_values, time_blocks, remarks, plot_ref, created_at
		FROM anomaly_master
	`
	args := []any{}
	if station != "" {
		query += ` WHERE station_code = ?`
		args = append(args, station)
	}
	query += ` ORDER BY night_date DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sums []models.AnomalySummary
	for rows.Next() {
		var sum models.AnomalySummary
		var nightStr string
		if err := rows.Scan(&sum.ID, &sum.StationCode, &nightStr, &sum.TimeRange,
			&sum.Threshold, &sum.Values, &sum.VerticalValues, &sum.HorizontalValues,
			&sum.TimeBlocks, &sum.Remarks, &sum.PlotRef, &sum.CreatedAt); err != nil {
			return nil, err
		}
		sum.NightDate, err = parseDate(nightStr)
		if err != nil {
			return nil, err
		}
		sums = append(sums, sum)
	}
	return sums, rows.Err()
}

// ListAnomalies returns the most recent anomaly log rows, newest first.
// An empty station code lists all stations.
func (s *Store) ListAnomalies(station string, limit int) ([]models.AnomalyEvent, error) {
	query := `
		SELECT id, station_code, night_date, time_of_anomaly, day_offset, value, vertical_power, horizontal_power, threshold, created_at
		FROM anomaly_log
	`
	args := []any{}
	if station != "" {
		query += ` WHERE station_code = ?`
		args = append(args, station)
	}
	query += ` ORDER BY time_of_anomaly DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.AnomalyEvent
	for rows.Next() {
		var ev models.AnomalyEvent
		var nightStr string
		if err := rows.Scan(&ev.ID, &ev.StationCode, &nightStr, &ev.Time,
			&ev.DayOffset, &ev.Value, &ev.VerticalPower, &ev.HorizontalPower,
			&ev.Threshold, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.NightDate, err = parseDate(nightStr)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
