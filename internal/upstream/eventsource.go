package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const eventSourceTarget = "event-source"

// ErrEventNotFound means the event source has no event at the given URL.
var ErrEventNotFound = errors.New("event not found at event source")

const eventByURLQuery = `query EventByURL($url: String!) {
  athleticEventByUrl(url: $url) {
    eventId
    name
    startDate
    city
    state
    address
  }
}`

// SourceEvent is the subset of an event source record the calendar imports.
type SourceEvent struct {
	EventID   int    `json:"eventId"`
	Name      string `json:"name"`
	StartDate string `json:"startDate"`
	City      string `json:"city"`
	State     string `json:"state"`
	Address   string `json:"address"`
}

// ID is the event id as stored in the calendar.
func (e SourceEvent) ID() string {
	return strconv.Itoa(e.EventID)
}

// Date parses StartDate, accepting both full timestamps and plain dates.
func (e SourceEvent) Date() (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, e.StartDate); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", e.StartDate)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type eventByURLResponse struct {
	Data struct {
		AthleticEventByURL *SourceEvent `json:"athleticEventByUrl"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// EventSourceClient looks events up on the GraphQL event source.
type EventSourceClient struct {
	endpoint string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewEventSourceClient(endpoint string, httpClient *http.Client, settings BreakerSettings, logger *zap.Logger) *EventSourceClient {
	return &EventSourceClient{
		endpoint: endpoint,
		http:     httpClient,
		breaker:  newBreaker("event-source", settings, logger),
		logger:   logger,
	}
}

// EventByURL resolves a public event page URL to its source record.
func (c *EventSourceClient) EventByURL(ctx context.Context, eventURL string) (SourceEvent, error) {
	return execute(c.breaker, eventSourceTarget, func() (SourceEvent, error) {
		body, err := json.Marshal(graphQLRequest{
			Query:     eventByURLQuery,
			Variables: map[string]any{"url": eventURL},
		})
		if err != nil {
			return SourceEvent{}, fmt.Errorf("failed to marshal query: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return SourceEvent{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return SourceEvent{}, fmt.Errorf("event source request failed: %w: %v", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		if err := checkStatus(eventSourceTarget, resp); err != nil {
			return SourceEvent{}, err
		}

		var out eventByURLResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return SourceEvent{}, fmt.Errorf("failed to decode event source response: %w", err)
		}
		if len(out.Errors) > 0 {
			msgs := make([]string, 0, len(out.Errors))
			for _, e := range out.Errors {
				msgs = append(msgs, e.Message)
			}
			return SourceEvent{}, fmt.Errorf("event source query failed: %s", strings.Join(msgs, "; "))
		}
		if out.Data.AthleticEventByURL == nil {
			return SourceEvent{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventURL)
		}

		c.logger.Debug("event resolved", zap.String("url", eventURL), zap.Int("event_id", out.Data.AthleticEventByURL.EventID))
		return *out.Data.AthleticEventByURL, nil
	})
}
