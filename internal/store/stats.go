package store

import (
	"database/sql"
	"math"
	"time"

	"github.com/mfield/pranight/internal/models"
)

func (s *Store) UpsertPowerStats(st models.PowerStats) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO station_power_stats (station_code, mean, std_dev, sample_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(station_code) DO UPDATE SET
			mean = excluded.mean,
			std_dev = excluded.std_dev,
			sample_count = excluded.sample_count,
			updated_at = excluded.updated_at
	`, st.StationCode, st.Mean, st.StdDev, st.SampleCount, st.UpdatedAt)
	return err
}

func (s *Store) GetPowerStats(station string) (*models.PowerStats, error) {
	row := s.db.QueryRow(`
		SELECT station_code, mean, std_dev, sample_count, updated_at
		FROM station_power_stats
		WHERE station_code = ?
	`, station)

	var st models.PowerStats
	err := row.Scan(&st.StationCode, &st.Mean, &st.StdDev, &st.SampleCount, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// RecomputePowerStats rebuilds the vertical band power aggregate for a
// station from its retained night windows and stores it. Returns nil
// when the station has no retained windows; any stale aggregate row is
// removed in that case.
func (s *Store) RecomputePowerStats(station string) (*models.PowerStats, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(AVG(vertical_power), 0), COALESCE(AVG(vertical_power * vertical_power), 0)
		FROM night_windows w
		JOIN nightly_records r ON w.record_id = r.id
		WHERE r.station_code = ?
	`, station)

	var count int
	var mean, meanSq float64
	if err := row.Scan(&count, &mean, &meanSq); err != nil {
		return nil, err
	}

	if count == 0 {
		if _, err := s.db.Exec(`DELETE FROM station_power_stats WHERE station_code = ?`, station); err != nil {
			return nil, err
		}
		return nil, nil
	}

	variance := meanSq - mean*mean
	if variance < 0 {
		variance = 0
	}

	st := models.PowerStats{
		StationCode: station,
		Mean:        mean,
		StdDev:      math.Sqrt(variance),
		SampleCount: count,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.UpsertPowerStats(st); err != nil {
		return nil, err
	}
	return &st, nil
}
