package ingest

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mfield/pranight/internal/metrics"
	"github.com/mfield/pranight/internal/models"
	"github.com/mfield/pranight/internal/store"
)

// dayFetcher retrieves the raw body of one station day file.
type dayFetcher interface {
	FetchDay(code string, day time.Time) ([]byte, error)
}

type namedFetcher struct {
	name string
	f    dayFetcher
}

// NightSource serves per-day magnetometer samples. Raw day files are
// cached on disk; on a miss the fetchers are tried in order and every
// network attempt is recorded as an acquisition run.
type NightSource struct {
	store    *store.Store
	fetchers []namedFetcher
	dataDir  string
}

// NewNightSource wires the primary GIN fetcher and an optional FTP
// mirror fallback in front of dataDir.
func NewNightSource(st *store.Store, primary, fallback dayFetcher, dataDir string) *NightSource {
	s := &NightSource{store: st, dataDir: dataDir}
	if primary != nil {
		s.fetchers = append(s.fetchers, namedFetcher{"gin", primary})
	}
	if fallback != nil {
		s.fetchers = append(s.fetchers, namedFetcher{"ftp", fallback})
	}
	return s
}

// Day returns the samples for one UTC day of a station, from the disk
// cache when possible.
func (s *NightSource) Day(code string, day time.Time) ([]models.Sample, error) {
	if samples, ok := s.readCache(code, day); ok {
		return samples, nil
	}

	var lastErr error
	for _, nf := range s.fetchers {
		samples, err := s.fetchAndRecord(nf, code, day)
		if err == nil {
			return samples, nil
		}
		lastErr = err
		if !errors.Is(err, ErrNotFound) {
			log.Printf("ingest: %s %s via %s: %v", code, day.Format("2006-01-02"), nf.name, err)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no fetchers configured")
	}
	return nil, lastErr
}

func (s *NightSource) fetchAndRecord(nf namedFetcher, code string, day time.Time) ([]models.Sample, error) {
	run, err := s.store.StartAcquisitionRun(code, nf.name, day)
	if err != nil {
		log.Printf("ingest: start acquisition run: %v", err)
	}

	started := time.Now()
	samples, raw, ferr := s.fetchDay(nf.f, code, day)
	metrics.AcquisitionLatency.WithLabelValues(nf.name).Observe(time.Since(started).Seconds())
	status := "ok"
	if ferr != nil {
		status = "error"
	}
	metrics.AcquisitionCalls.WithLabelValues(nf.name, status).Inc()

	if run != nil {
		run.Success = ferr == nil
		if ferr != nil {
			run.ErrorMessage = sql.NullString{String: ferr.Error(), Valid: true}
		} else {
			run.SamplesRead = sql.NullInt64{Int64: int64(len(samples)), Valid: true}
		}
		if cerr := s.store.CompleteAcquisitionRun(run); cerr != nil {
			log.Printf("ingest: complete acquisition run: %v", cerr)
		}
	}

	if ferr != nil {
		return nil, ferr
	}
	s.writeCache(code, day, raw)
	return samples, nil
}

func (s *NightSource) fetchDay(f dayFetcher, code string, day time.Time) ([]models.Sample, []byte, error) {
	raw, err := f.FetchDay(code, day)
	if err != nil {
		return nil, nil, err
	}

	samples, err := ParseIAGA2002(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("parse: %w", err)
	}

	if flags := ValidateDay(samples, day); len(flags) > 0 {
		log.Printf("ingest: %s %s quality flags: %s", code, day.Format("2006-01-02"), strings.Join(flags, ","))
	}
	samples, dropped := clipToDay(samples, day)
	if dropped > 0 {
		log.Printf("ingest: %s %s: dropped %d samples outside the file day", code, day.Format("2006-01-02"), dropped)
	}
	return samples, raw, nil
}

func (s *NightSource) cachePath(code string, day time.Time) string {
	name := fmt.Sprintf("%s_%s.iaga2002", strings.ToUpper(code), day.Format("20060102"))
	return filepath.Join(s.dataDir, name)
}

func (s *NightSource) readCache(code string, day time.Time) ([]models.Sample, bool) {
	path := s.cachePath(code, day)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	samples, err := ParseIAGA2002(bytes.NewReader(raw))
	if err != nil {
		log.Printf("ingest: cached file %s unreadable (%v), refetching", path, err)
		return nil, false
	}
	samples, _ = clipToDay(samples, day)
	return samples, true
}

func (s *NightSource) writeCache(code string, day time.Time, raw []byte) {
	if s.dataDir == "" {
		return
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		log.Printf("ingest: create data dir: %v", err)
		return
	}
	if err := os.WriteFile(s.cachePath(code, day), raw, 0o644); err != nil {
		log.Printf("ingest: write cache: %v", err)
	}
}

// Prune removes cached day files older than the cutoff day. Files that
// do not follow the cache naming stay untouched.
func (s *NightSource) Prune(cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".iaga2002") {
			continue
		}
		base := strings.TrimSuffix(name, ".iaga2002")
		us := strings.LastIndexByte(base, '_')
		if us < 0 {
			continue
		}
		day, err := time.Parse("20060102", base[us+1:])
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dataDir, name)); err != nil {
			log.Printf("ingest: prune %s: %v", name, err)
			continue
		}
		removed++
	}
	return removed, nil
}
