package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cyclecal/internal/model"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const resultsTarget = "results"

// Registrations maps a numeric event id (as a string) to the names of the
// riders registered for it.
type Registrations map[string][]string

// For returns the registered names of one event.
func (r Registrations) For(eventID string) []string {
	return r[eventID]
}

type registration struct {
	EventID int    `json:"EventID"`
	Name    string `json:"Name"`
}

// resultsDisciplines maps calendar disciplines to the results provider's
// discipline names.
var resultsDisciplines = map[model.Discipline]string{
	model.DisciplineRoad: "road",
	model.DisciplineCX:   "cyclocross",
	model.DisciplineXC:   "mtb",
}

// ResultsClient queries the results provider's registration lookup.
type ResultsClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewResultsClient(baseURL string, httpClient *http.Client, settings BreakerSettings, logger *zap.Logger) *ResultsClient {
	return &ResultsClient{
		baseURL: baseURL,
		http:    httpClient,
		breaker: newBreaker("results-lookup", settings, logger),
		logger:  logger,
	}
}

// LookupURL builds the lookup request URL for a discipline and start date.
func (c *ResultsClient) LookupURL(d model.Discipline, after time.Time) (string, error) {
	name, ok := resultsDisciplines[d]
	if !ok {
		return "", model.Invalidf("no registrations for event type %q", d)
	}
	q := url.Values{}
	q.Set("discipline", name)
	q.Set("after", after.Format("2006-01-02"))
	return c.baseURL + "/api/b2c2lookup.php?" + q.Encode(), nil
}

// Registrations fetches the riders registered for events of d on or after
// the given day, grouped by event id.
func (c *ResultsClient) Registrations(ctx context.Context, d model.Discipline, after time.Time) (Registrations, error) {
	lookupURL, err := c.LookupURL(d, after)
	if err != nil {
		return nil, err
	}

	return execute(c.breaker, resultsTarget, func() (Registrations, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("registration lookup failed: %w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		if err := checkStatus(resultsTarget, resp); err != nil {
			return nil, err
		}

		var rows []registration
		if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
			return nil, fmt.Errorf("failed to decode registrations: %w", err)
		}

		out := make(Registrations)
		for _, row := range rows {
			id := strconv.Itoa(row.EventID)
			out[id] = append(out[id], row.Name)
		}
		c.logger.Debug("registrations fetched",
			zap.String("discipline", string(d)),
			zap.Int("rows", len(rows)),
			zap.Int("events", len(out)))
		return out, nil
	})
}
