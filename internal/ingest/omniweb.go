package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mfield/pranight/internal/models"
	"github.com/mfield/pranight/internal/store"
)

const DefaultOMNIBaseURL = "https://omniweb.gsfc.nasa.gov/cgi/nx1.cgi"

// OMNIClient retrieves the hourly planetary disturbance index from the
// OMNIWeb data explorer.
type OMNIClient struct {
	client  *http.Client
	baseURL string
}

func NewOMNIClient(client *http.Client, baseURL string) *OMNIClient {
	if baseURL == "" {
		baseURL = DefaultOMNIBaseURL
	}
	return &OMNIClient{client: client, baseURL: baseURL}
}

// FetchRange downloads index values covering [start, end] by UTC day.
func (o *OMNIClient) FetchRange(start, end time.Time) ([]models.DisturbancePoint, error) {
	q := url.Values{}
	q.Set("activity", "retrieve")
	q.Set("res", "hour")
	q.Set("spacecraft", "omni2")
	q.Set("start_date", start.UTC().Format("20060102"))
	q.Set("end_date", end.UTC().Format("20060102"))
	q.Set("vars", "50")
	q.Set("format", "ascii")

	reqURL := o.baseURL + "?" + q.Encode()

	var body []byte
	operation := func() error {
		resp, err := o.client.Get(reqURL)
		if err != nil {
			return fmt.Errorf("fetch index: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("fetch index: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch index: status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}

	return parseOMNIHourly(body)
}

// parseOMNIHourly extracts (time, value) pairs from the listing. The
// payload is a text table wrapped in page furniture: data starts after
// a YEAR/DOY header line, and each data row carries year, day of year,
// hour and then the requested variables.
func parseOMNIHourly(body []byte) ([]models.DisturbancePoint, error) {
	sc := bufio.NewScanner(bytes.NewReader(body))

	var pts []models.DisturbancePoint
	inData := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !inData {
			if strings.Contains(line, "YEAR") && strings.Contains(line, "DOY") {
				inData = true
			}
			continue
		}
		if strings.HasPrefix(line, "<") {
			break
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		year, err1 := strconv.Atoi(fields[0])
		doy, err2 := strconv.Atoi(fields[1])
		hour, err3 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		if year < 1957 || doy < 1 || doy > 366 || hour < 0 || hour > 23 {
			continue
		}
		value, ok := firstPlausibleIndex(fields[3:])
		if !ok {
			continue
		}
		ts := time.Date(year, 1, 1, hour, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1)
		pts = append(pts, models.DisturbancePoint{Time: ts, SymH: value})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !inData {
		return nil, fmt.Errorf("no YEAR/DOY header in index listing")
	}
	return pts, nil
}

// firstPlausibleIndex picks the first column that reads as an index
// value, skipping the service's fill markers.
func firstPlausibleIndex(fields []string) (float64, bool) {
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		if v == 9999 || v == 999.9 || v == 999.99 || v == 99.99 {
			continue
		}
		if v < -500 || v > 500 {
			continue
		}
		return v, true
	}
	return 0, false
}

// DisturbanceProvider serves index points from the local cache,
// refreshing from OMNIWeb when the requested range is not covered.
// A failed refresh degrades to whatever the cache holds.
type DisturbanceProvider struct {
	store  *store.Store
	client *OMNIClient

	mu          sync.Mutex
	lastFrom    time.Time
	lastTo      time.Time
	lastAttempt time.Time
}

func NewDisturbanceProvider(st *store.Store, client *OMNIClient) *DisturbanceProvider {
	return &DisturbanceProvider{store: st, client: client}
}

func (p *DisturbanceProvider) Range(from, to time.Time) ([]models.DisturbancePoint, error) {
	if p.needsRefresh(from, to) {
		pts, err := p.client.FetchRange(from, to)
		switch {
		case err != nil:
			log.Printf("ingest: disturbance index refresh failed, continuing with cached data: %v", err)
		case len(pts) == 0:
			log.Printf("ingest: disturbance index empty for %s to %s",
				from.Format("2006-01-02"), to.Format("2006-01-02"))
		default:
			if err := p.store.UpsertDisturbance(pts); err != nil {
				return nil, err
			}
		}
	}
	return p.store.DisturbanceRange(from, to)
}

// needsRefresh reports whether the cache lacks the range. Attempts are
// rate limited so a station sweep triggers at most one fetch.
func (p *DisturbanceProvider) needsRefresh(from, to time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if !p.lastAttempt.IsZero() && now.Sub(p.lastAttempt) < 10*time.Minute &&
		!from.Before(p.lastFrom) && !to.After(p.lastTo) {
		return false
	}

	min, max, ok, err := p.store.DisturbanceCoverage()
	if err == nil && ok && !min.After(from) && !max.Before(to) {
		return false
	}

	p.lastAttempt, p.lastFrom, p.lastTo = now, from, to
	return true
}
