package store

import (
	"database/sql"
	"time"

	"github.com/mfield/pranight/internal/models"
)

// dateFormat is the canonical encoding for night dates. Night dates are
// calendar dates (the local morning of the analysis window) stored
// without a time component so that lexicographic comparison matches
// chronological order.
const dateFormat = "2006-01-02"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func fmtDate(t time.Time) string {
	return t.Format(dateFormat)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateFormat, s)
}

func (s *Store) UpsertStation(st models.Station) error {
	_, err := s.db.Exec(`
		INSERT INTO stations (code, name, country, latitude, longitude, timezone)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			country = excluded.country,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			timezone = excluded.timezone
	`, st.Code, st.Name, st.Country, st.Latitude, st.Longitude, st.Timezone)
	return err
}

func (s *Store) GetStation(code string) (*models.Station, error) {
	row := s.db.QueryRow(`SELECT code, name, country, latitude, longitude, timezone FROM stations WHERE code = ?`, code)

	var st models.Station
	err := row.Scan(&st.Code, &st.Name, &st.Country, &st.Latitude, &st.Longitude, &st.Timezone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListStations() ([]models.Station, error) {
	rows, err := s.db.Query(`SELECT code, name, country, latitude, longitude, timezone FROM stations ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		if err := rows.Scan(&st.Code, &st.Name, &st.Country, &st.Latitude, &st.Longitude, &st.Timezone); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}
