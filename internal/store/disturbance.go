package store

import (
	"database/sql"
	"time"

	"github.com/mfield/pranight/internal/models"
)

// UpsertDisturbance stores disturbance index samples, replacing any
// existing sample at the same instant.
func (s *Store) UpsertDisturbance(points []models.DisturbancePoint) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, p := range points {
		if _, err := tx.Exec(`
			INSERT INTO disturbance_index (time, sym_h)
			VALUES (?, ?)
			ON CONFLICT(time) DO UPDATE SET sym_h = excluded.sym_h
		`, p.Time.UTC(), p.SymH); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DisturbanceRange returns cached disturbance samples in [start, end],
// ordered by time.
func (s *Store) DisturbanceRange(start, end time.Time) ([]models.DisturbancePoint, error) {
	rows, err := s.db.Query(`
		SELECT time, sym_h FROM disturbance_index
		WHERE time >= ? AND time <= ?
		ORDER BY time
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.DisturbancePoint
	for rows.Next() {
		var p models.DisturbancePoint
		if err := rows.Scan(&p.Time, &p.SymH); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// DisturbanceCoverage reports the time span of the cached disturbance
// index. ok is false when the cache is empty.
func (s *Store) DisturbanceCoverage() (min, max time.Time, ok bool, err error) {
	row := s.db.QueryRow(`SELECT MIN(time), MAX(time) FROM disturbance_index`)

	var minVal, maxVal sql.NullTime
	if err := row.Scan(&minVal, &maxVal); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !minVal.Valid || !maxVal.Valid {
		return time.Time{}, time.Time{}, false, nil
	}
	return minVal.Time, maxVal.Time, true, nil
}
