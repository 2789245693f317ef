package store

import (
	"database/sql"
	"time"
)

// AcquisitionRun represents a single day-file fetch attempt for
// auditing.
type AcquisitionRun struct {
	ID           int64
	StationCode  string
	Source       string // "gin", "ftp"
	Day          time.Time
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	SamplesRead  sql.NullInt64
	Success      bool
	ErrorMessage sql.NullString
}

// StartAcquisitionRun creates a new acquisition run record and returns it.
func (s *Store) StartAcquisitionRun(station, source string, day time.Time) (*AcquisitionRun, error) {
	run := &AcquisitionRun{
		StationCode: station,
		Source:      source,
		Day:         day,
		StartedAt:   time.Now().UTC(),
	}

	result, err := s.db.Exec(`
		INSERT INTO acquisition_runs (station_code, source, day, started_at, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.StationCode, run.Source, fmtDate(run.Day), run.StartedAt)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteAcquisitionRun updates the acquisition run with results.
func (s *Store) CompleteAcquisitionRun(run *AcquisitionRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE acquisition_runs SET
			finished_at = ?,
			samples_read = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.SamplesRead, run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetRecentAcquisitionErrors returns recent failed acquisition runs.
func (s *Store) GetRecentAcquisitionErrors(limit int) ([]AcquisitionRun, error) {
	rows, err := s.db.Query(`
		SELECT id, station_code, source, day, started_at, finished_at, samples_read, success, error_message
		FROM acquisition_runs
		WHERE success = FALSE AND finished_at IS NOT NULL
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AcquisitionRun
	for rows.Next() {
		var r AcquisitionRun
		var dayStr string
		if err := rows.Scan(&r.ID, &r.StationCode, &r.Source, &dayStr, &r.StartedAt,
			&r.FinishedAt, &r.SamplesRead, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		r.Day, err = parseDate(dayStr)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
