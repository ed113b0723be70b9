// Package client is the Go client of the calendar HTTP API. It keeps the
// fetched event lists and registrations in injected caches and reports
// mutation outcomes as Results instead of errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"cyclecal/internal/cache"
	"cyclecal/internal/event"
	"cyclecal/internal/model"
	"cyclecal/internal/rider"
	"cyclecal/internal/upstream"

	"go.uber.org/zap"
)

// Result is the outcome of a mutation.
type Result struct {
	Message string       `json:"message"`
	Success bool         `json:"success"`
	Event   *model.Event `json:"event,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

// RiderLists is an event with its reconciled rider buckets.
type RiderLists struct {
	Event model.Event `json:"event"`
	Lists rider.Lists `json:"lists"`
}

type Opts struct {
	BaseURL       string
	HTTPClient    *http.Client
	Events        cache.Cache[[]model.Event]
	Registrations cache.Cache[upstream.Registrations]
	Logger        *zap.Logger
}

type Client struct {
	baseURL string
	http    *http.Client
	events  cache.Cache[[]model.Event]
	regs    cache.Cache[upstream.Registrations]
	logger  *zap.Logger
	token   string
}

func New(opts Opts) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Events == nil {
		opts.Events = cache.NewTTL[[]model.Event](cache.DefaultTTL)
	}
	if opts.Registrations == nil {
		opts.Registrations = cache.NewTTL[upstream.Registrations](cache.DefaultTTL)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		baseURL: opts.BaseURL,
		http:    opts.HTTPClient,
		events:  opts.Events,
		regs:    opts.Registrations,
		logger:  opts.Logger,
	}
}

// SetToken makes subsequent requests carry a bearer token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// EventsByType returns the events of one discipline, from cache when fresh.
func (c *Client) EventsByType(ctx context.Context, d model.Discipline) ([]model.Event, error) {
	key := cache.EventsKey(d)
	if events, ok := c.events.Get(ctx, key); ok {
		return events, nil
	}

	var events []model.Event
	q := url.Values{"type": {string(d)}}
	if err := c.getJSON(ctx, "/api/getEventsByType?"+q.Encode(), &events); err != nil {
		return nil, err
	}
	if events == nil {
		events = []model.Event{}
	}
	c.events.Set(ctx, key, events)
	return events, nil
}

// RegisteredRiders returns the registrations of a discipline from the given
// day on. Lookups on the same calendar day share one cache entry.
func (c *Client) RegisteredRiders(ctx context.Context, d model.Discipline, after time.Time) (upstream.Registrations, error) {
	key := cache.RegistrationKey(d, after)
	if regs, ok := c.regs.Get(ctx, key); ok {
		return regs, nil
	}

	var regs upstream.Registrations
	q := url.Values{"discipline": {string(d)}, "after": {after.Format("2006-01-02")}}
	if err := c.getJSON(ctx, "/api/getRegisteredRiders?"+q.Encode(), &regs); err != nil {
		return nil, err
	}
	c.regs.Set(ctx, key, regs)
	return regs, nil
}

func (c *Client) Event(ctx context.Context, d model.Discipline, id string) (model.Event, error) {
	var ev model.Event
	err := c.getJSON(ctx, fmt.Sprintf("/api/events/%s/%s", url.PathEscape(string(d)), url.PathEscape(id)), &ev)
	return ev, err
}

func (c *Client) RiderLists(ctx context.Context, d model.Discipline, id string, after time.Time) (RiderLists, error) {
	var out RiderLists
	q := url.Values{"after": {after.Format("2006-01-02")}}
	err := c.getJSON(ctx, fmt.Sprintf("/api/events/%s/%s/riders?%s", url.PathEscape(string(d)), url.PathEscape(id), q.Encode()), &out)
	return out, err
}

// UpdateEvent sends a partial patch.
func (c *Client) UpdateEvent(ctx context.Context, patch model.UpdateEventData) Result {
	res := c.mutate(ctx, http.MethodPatch, "/api/updateEvent", patch)
	if res.Success {
		c.events.Clear(ctx, cache.EventsKey(patch.EventType))
	}
	return res
}

func (c *Client) MoveRider(ctx context.Context, req event.MoveRequest) Result {
	res := c.mutate(ctx, http.MethodPost, "/api/moveRider", req)
	if res.Success {
		c.events.Clear(ctx, cache.EventsKey(req.EventType))
	}
	return res
}

func (c *Client) RemoveRider(ctx context.Context, req event.RemoveRequest) Result {
	res := c.mutate(ctx, http.MethodPost, "/api/removeRider", req)
	if res.Success {
		c.events.Clear(ctx, cache.EventsKey(req.EventType))
	}
	return res
}

// SubmitEvent imports a race by URL and drops the cached list of its
// discipline so the next read sees it.
func (c *Client) SubmitEvent(ctx context.Context, req event.SubmitRequest) Result {
	res := c.mutate(ctx, http.MethodPost, "/api/submitEvent", req)
	if res.Success {
		c.events.Clear(ctx, cache.EventsKey(req.EventType))
	}
	return res
}

func (c *Client) SubmitSpecialEvent(ctx context.Context, req event.SpecialEventRequest) Result {
	res := c.mutate(ctx, http.MethodPost, "/api/submitSpecialEvent", req)
	if res.Success {
		c.events.Clear(ctx, cache.EventsKey(model.DisciplineSpecial))
	}
	return res
}

func (c *Client) DeleteEvent(ctx context.Context, d model.Discipline, id string) Result {
	res := c.mutate(ctx, http.MethodDelete, fmt.Sprintf("/admin/events/%s/%s", url.PathEscape(string(d)), url.PathEscape(id)), nil)
	if res.Success {
		c.events.Clear(ctx, cache.EventsKey(d))
	}
	return res
}

// ClearServerCache flushes the server caches and the local ones.
func (c *Client) ClearServerCache(ctx context.Context) Result {
	res := c.mutate(ctx, http.MethodPost, "/admin/cache/clear", nil)
	if res.Success {
		c.ClearCache(ctx)
	}
	return res
}

// ClearCache drops every locally cached response.
func (c *Client) ClearCache(ctx context.Context) {
	c.events.ClearAll(ctx)
	c.regs.ClearAll(ctx)
}

// Login exchanges credentials for a token and keeps it for later requests.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	return c.authenticate(ctx, "/login", username, password)
}

// Signup registers a rider account and keeps its token.
func (c *Client) Signup(ctx context.Context, username, password string) (string, error) {
	return c.authenticate(ctx, "/signup", username, password)
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (string, error) {
	body := map[string]string{"username": username, "password": password}
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode token: %w", err)
	}
	c.SetToken(out.Token)
	return out.Token, nil
}

// mutate performs a mutation and folds every failure into the Result.
func (c *Client) mutate(ctx context.Context, method, path string, body any) Result {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		c.logger.Warn("request failed", zap.String("path", path), zap.Error(err))
		return failure("request failed: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Message string       `json:"message"`
		Success *bool        `json:"success"`
		Event   *model.Event `json:"event"`
	}
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		if out.Message == "" {
			out.Message = http.StatusText(resp.StatusCode)
		}
		return Result{Message: out.Message}
	}
	if decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
		return failure("invalid response: %v", decodeErr)
	}
	// A 2xx without an explicit success flag counts as success.
	success := out.Success == nil || *out.Success
	return Result{Message: out.Message, Success: success, Event: out.Event}
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

// StatusError is returned by reads that get a non-200 response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

func statusError(resp *http.Response) error {
	var out struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out)
	if out.Message == "" {
		out.Message = http.StatusText(resp.StatusCode)
	}
	return &StatusError{Code: resp.StatusCode, Message: out.Message}
}
