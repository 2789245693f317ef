package ingest

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mfield/pranight/internal/models"
)

// Observatories publish 99999 for missing values and 88888 for
// unobserved components; both map to NaN.
const fillCutoff = 88887.0

// ParseIAGA2002 reads an IAGA-2002 day file and returns its samples in
// UTC. The first three reported components become X, Y and Z; fill
// values come back as NaN. Malformed data lines are skipped with a
// single summary log line.
func ParseIAGA2002(r io.Reader) ([]models.Sample, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var samples []models.Sample
	inData := false
	bad := 0

	for sc.Scan() {
		line := sc.Text()
		if !inData {
			if strings.HasPrefix(strings.TrimSpace(line), "DATE") {
				inData = true
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 6 {
			bad++
			continue
		}

		ts, err := parseDataTime(fields[0], fields[1])
		if err != nil {
			bad++
			continue
		}

		samples = append(samples, models.Sample{
			Time: ts,
			X:    parseComponent(fields[3]),
			Y:    parseComponent(fields[4]),
			Z:    parseComponent(fields[5]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !inData {
		return nil, fmt.Errorf("no DATE column header found")
	}
	if bad > 0 {
		log.Printf("ingest: skipped %d malformed data lines", bad)
	}
	return samples, nil
}

func parseDataTime(date, clock string) (time.Time, error) {
	ts, err := time.Parse("2006-01-02 15:04:05.000", date+" "+clock)
	if err != nil {
		ts, err = time.Parse("2006-01-02 15:04:05", date+" "+clock)
	}
	return ts, err
}

func parseComponent(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v >= fillCutoff {
		return math.NaN()
	}
	return v
}

const (
	FlagFieldOutOfRange     = "field_out_of_range"
	FlagTimestampsUnordered = "timestamps_unordered"
	FlagOutsideDay          = "outside_day"
	FlagSparseDay           = "sparse_day"
)

// ValidateDay inspects a parsed day file and returns quality flags.
func ValidateDay(samples []models.Sample, day time.Time) []string {
	var flags []string

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	outOfRange := false
	unordered := false
	outside := false
	for i, s := range samples {
		if i > 0 && s.Time.Before(samples[i-1].Time) {
			unordered = true
		}
		if s.Time.Before(dayStart) || !s.Time.Before(dayEnd) {
			outside = true
		}
		for _, v := range [3]float64{s.X, s.Y, s.Z} {
			if !math.IsNaN(v) && math.Abs(v) > 90000 {
				outOfRange = true
			}
		}
	}

	if outOfRange {
		flags = append(flags, FlagFieldOutOfRange)
	}
	if unordered {
		flags = append(flags, FlagTimestampsUnordered)
	}
	if outside {
		flags = append(flags, FlagOutsideDay)
	}
	if len(samples) < 43200 {
		flags = append(flags, FlagSparseDay)
	}
	return flags
}

// clipToDay drops samples outside the file's UTC day and returns the
// number removed.
func clipToDay(samples []models.Sample, day time.Time) ([]models.Sample, int) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	kept := samples[:0]
	for _, s := range samples {
		if s.Time.Before(dayStart) || !s.Time.Before(dayEnd) {
			continue
		}
		kept = append(kept, s)
	}
	return kept, len(samples) - len(kept)
}
