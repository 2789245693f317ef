// Package stations loads and filters the observatory catalog.
package stations

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mfield/pranight/internal/models"
)

type catalogEntry struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Timezone  string  `json:"timezone"`
}

type catalogFile struct {
	Stations []catalogEntry `json:"stations"`
}

// Load reads a JSON station catalog of the form
// {"stations": [{code, name, country, latitude, longitude, timezone}]}.
// Codes are trimmed and upper cased, time zones must resolve, and the
// result is sorted by code.
func Load(path string) ([]models.Station, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read station catalog: %w", err)
	}

	var cat catalogFile
	if err := json.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("parse station catalog: %w", err)
	}

	out := make([]models.Station, 0, len(cat.Stations))
	for i, e := range cat.Stations {
		code := strings.ToUpper(strings.TrimSpace(e.Code))
		if code == "" {
			return nil, fmt.Errorf("station %d: missing code", i)
		}
		if e.Timezone == "" {
			return nil, fmt.Errorf("station %s: missing timezone", code)
		}
		if _, err := time.LoadLocation(e.Timezone); err != nil {
			return nil, fmt.Errorf("station %s: %w", code, err)
		}
		out = append(out, models.Station{
			Code:      code,
			Name:      e.Name,
			Country:   e.Country,
			Latitude:  e.Latitude,
			Longitude: e.Longitude,
			Timezone:  e.Timezone,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Select filters the catalog to the requested codes, case
// insensitively. An empty request keeps the whole catalog. Codes that
// match nothing come back in unknown.
func Select(all []models.Station, codes []string) (selected []models.Station, unknown []string) {
	if len(codes) == 0 {
		return all, nil
	}

	byCode := make(map[string]models.Station, len(all))
	for _, st := range all {
		byCode[st.Code] = st
	}

	for _, c := range codes {
		code := strings.ToUpper(strings.TrimSpace(c))
		if code == "" {
			continue
		}
		if st, ok := byCode[code]; ok {
			selected = append(selected, st)
		} else {
			unknown = append(unknown, code)
		}
	}
	return selected, unknown
}

// TZCache caches loaded time zone locations across stations.
type TZCache struct {
	mu   sync.Mutex
	locs map[string]*time.Location
}

func NewTZCache() *TZCache {
	return &TZCache{locs: make(map[string]*time.Location)}
}

func (c *TZCache) Location(name string) (*time.Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if loc, ok := c.locs[name]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	c.locs[name] = loc
	return loc, nil
}
