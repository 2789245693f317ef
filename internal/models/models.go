package models

import (
	"time"
)

type Station struct {
	Code      string
	Name      string
	Country   string
	Latitude  float64
	Longitude float64
	Timezone  string // IANA name, e.g. "Asia/Tokyo"
}

// Sample is a single 1 Hz vector magnetometer reading. Missing or
// fill-valued components are NaN.
type Sample struct {
	Time time.Time
	X    float64
	Y    float64
	Z    float64
}

type WindowSample struct {
	MidTime         time.Time // UTC midpoint of the hourly window
	P               float64
	VerticalPower   float64
	HorizontalPower float64
	DisturbedFrac   float64
	IsQuiet         bool
	IsAnomalous     bool
}

// NightlyRecord is the persisted outcome of one station-night. The
// night date is the local morning date, so the analysis window runs
// from 20:00 the prior evening to 04:00 on NightDate.
type NightlyRecord struct {
	ID              int64
	StationCode     string
	NightDate       time.Time
	Threshold       float64
	ThresholdMethod string // "evt" or "k-sigma"
	PoolSize        int
	PoolNights      int
	WindowCount     int
	QuietCount      int
	AnomalousCount  int
	IsAnomalous     bool
	CreatedAt       time.Time
	Windows         []WindowSample
}

type AnomalyEvent struct {
	ID              int64
	StationCode     string
	NightDate       time.Time
	Time            time.Time
	DayOffset       float64 // days relative to local midnight of the night date
	Value           float64
	VerticalPower   float64
	HorizontalPower float64
	Threshold       float64
	CreatedAt       time.Time
}

// AnomalySummary is the one-row-per-night entry in the cumulative
// master log, written only when the night-level flag is set. The
// joined value strings mirror the per-event log rows for
// spreadsheet-style consumers.
type AnomalySummary struct {
	ID               int64
	StationCode      string
	NightDate        time.Time
	TimeRange        string // local span, e.g. "2025-03-08 20:00 - 2025-03-09 04:00"
	Threshold        float64
	Values           string // comma-joined anomalous P values
	VerticalValues   string
	HorizontalValues string
	TimeBlocks       string // local hour blocks, e.g. "02:00-03:00"
	Remarks          string
	PlotRef          string // reserved for a rendered figure path
	CreatedAt        time.Time
}

type DisturbancePoint struct {
	Time time.Time
	SymH float64 // nT
}

type PowerStats struct {
	StationCode string
	Mean        float64
	StdDev      float64
	SampleCount int
	UpdatedAt   time.Time
}
