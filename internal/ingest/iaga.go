package ingest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotFound marks a day file the publisher does not have, which for
// recent days usually means it is not published yet.
var ErrNotFound = errors.New("day file not available")

const DefaultGINBaseURL = "https://imag-data.bgs.ac.uk/GIN_V1/GINServices"

// GINClient downloads IAGA-2002 day files from an INTERMAGNET GIN web
// service.
type GINClient struct {
	client  *http.Client
	baseURL string

	// Cadence selects the sample rate requested from the service,
	// "second" when empty. The analysis grid assumes 1 Hz, so "minute"
	// is only useful for ad hoc pulls.
	Cadence string
}

func NewGINClient(client *http.Client, baseURL string) *GINClient {
	if baseURL == "" {
		baseURL = DefaultGINBaseURL
	}
	return &GINClient{client: client, baseURL: baseURL}
}

// FetchDay retrieves one UTC day of data in the station's native
// orientation.
func (g *GINClient) FetchDay(code string, day time.Time) ([]byte, error) {
	cadence := g.Cadence
	if cadence == "" {
		cadence = "second"
	}

	q := url.Values{}
	q.Set("Request", "GetData")
	q.Set("observatoryIagaCode", strings.ToUpper(code))
	q.Set("samplesPerDay", cadence)
	q.Set("dataStartDate", day.Format("2006-01-02"))
	q.Set("dataDuration", "1")
	q.Set("publicationState", "adjusted")
	q.Set("orientation", "native")
	q.Set("format", "iaga2002")

	reqURL := g.baseURL + "?" + q.Encode()

	var body []byte
	operation := func() error {
		resp, err := g.client.Get(reqURL)
		if err != nil {
			return fmt.Errorf("fetch day file: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(ErrNotFound)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("fetch day file: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetch day file: status %d", resp.StatusCode)
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

	// The service answers some unknown-data requests with an HTML error
	// page instead of a status code.
	if looksLikeHTML(body) {
		return nil, ErrNotFound
	}
	return body, nil
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 256)])))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}
