package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"cyclecal/internal/cache"
	"cyclecal/internal/event"
	"cyclecal/internal/model"
	"cyclecal/internal/upstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	listCalls atomic.Int32
	regCalls  atomic.Int32
	lastAuth  atomic.Value
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/getEventsByType", func(w http.ResponseWriter, r *http.Request) {
		f.listCalls.Add(1)
		json.NewEncoder(w).Encode([]model.Event{{ID: "1", EventType: model.Discipline(r.URL.Query().Get("type")), Name: "Crit"}})
	})
	mux.HandleFunc("/api/getRegisteredRiders", func(w http.ResponseWriter, r *http.Request) {
		f.regCalls.Add(1)
		json.NewEncoder(w).Encode(upstream.Registrations{"1": {"Reggie"}})
	})
	mux.HandleFunc("/api/submitEvent", func(w http.ResponseWriter, r *http.Request) {
		var req event.SubmitRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.URL == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"invalid input: url is required","success":false}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"message":"Event submitted","success":true}`))
	})
	mux.HandleFunc("/api/updateEvent", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"ok"}`))
	})
	mux.HandleFunc("/admin/cache/clear", func(w http.ResponseWriter, r *http.Request) {
		f.lastAuth.Store(r.Header.Get("Authorization"))
		w.Write([]byte(`{"message":"Caches cleared","success":true}`))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"t0k"}`))
	})
	return mux
}

func setupClient(t *testing.T) (*Client, *fakeAPI) {
	api := &fakeAPI{}
	ts := httptest.NewServer(api.handler())
	t.Cleanup(ts.Close)
	return New(Opts{BaseURL: ts.URL, HTTPClient: ts.Client()}), api
}

func TestEventsByTypeIsCached(t *testing.T) {
	c, api := setupClient(t)
	ctx := context.Background()

	first, err := c.EventsByType(ctx, model.DisciplineRoad)
	require.NoError(t, err)
	second, err := c.EventsByType(ctx, model.DisciplineRoad)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, api.listCalls.Load())

	_, err = c.EventsByType(ctx, model.DisciplineCX)
	require.NoError(t, err)
	assert.EqualValues(t, 2, api.listCalls.Load(), "disciplines are cached independently")
}

func TestSubmitInvalidatesDiscipline(t *testing.T) {
	c, api := setupClient(t)
	ctx := context.Background()

	_, err := c.EventsByType(ctx, model.DisciplineRoad)
	require.NoError(t, err)

	res := c.SubmitEvent(ctx, event.SubmitRequest{URL: "https://www.bikereg.com/crit", EventType: model.DisciplineRoad})
	require.True(t, res.Success, res.Message)

	_, err = c.EventsByType(ctx, model.DisciplineRoad)
	require.NoError(t, err)
	assert.EqualValues(t, 2, api.listCalls.Load())
}

func TestFailedSubmitKeepsCache(t *testing.T) {
	c, api := setupClient(t)
	ctx := context.Background()

	_, err := c.EventsByType(ctx, model.DisciplineRoad)
	require.NoError(t, err)

	res := c.SubmitEvent(ctx, event.SubmitRequest{EventType: model.DisciplineRoad})
	assert.False(t, res.Success)
	assert.Equal(t, "invalid input: url is required", res.Message)

	_, err = c.EventsByType(ctx, model.DisciplineRoad)
	require.NoError(t, err)
	assert.EqualValues(t, 1, api.listCalls.Load())
}

func TestRegisteredRidersCoalescesSameDay(t *testing.T) {
	c, api := setupClient(t)
	ctx := context.Background()

	morning := time.Date(2025, 3, 2, 8, 0, 0, 0, time.Local)
	night := time.Date(2025, 3, 2, 23, 0, 0, 0, time.Local)
	_, err := c.RegisteredRiders(ctx, model.DisciplineRoad, morning)
	require.NoError(t, err)
	regs, err := c.RegisteredRiders(ctx, model.DisciplineRoad, night)
	require.NoError(t, err)

	assert.Equal(t, []string{"Reggie"}, regs.For("1"))
	assert.EqualValues(t, 1, api.regCalls.Load())
}

func TestMutationsNeverReturnErrors(t *testing.T) {
	c, _ := setupClient(t)
	ctx := context.Background()

	res := c.UpdateEvent(ctx, model.UpdateEventData{EventID: "1", EventType: model.DisciplineRoad, Description: model.String("x")})
	assert.True(t, res.Success, "a 2xx without a success flag counts as success")

	dead := New(Opts{BaseURL: "http://127.0.0.1:1", HTTPClient: &http.Client{Timeout: time.Second}})
	res = dead.UpdateEvent(ctx, model.UpdateEventData{EventID: "1", EventType: model.DisciplineRoad})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "request failed")

	_, err := dead.EventsByType(ctx, model.DisciplineRoad)
	assert.Error(t, err)
}

func TestLoginSetsToken(t *testing.T) {
	c, api := setupClient(t)
	ctx := context.Background()

	token, err := c.Login(ctx, "admin", "pw")
	require.NoError(t, err)
	assert.Equal(t, "t0k", token)

	res := c.ClearServerCache(ctx)
	require.True(t, res.Success)
	assert.Equal(t, "Bearer t0k", api.lastAuth.Load())
}

func TestInjectedCaches(t *testing.T) {
	api := &fakeAPI{}
	ts := httptest.NewServer(api.handler())
	defer ts.Close()

	events := cache.NewTTL[[]model.Event](time.Minute)
	events.Set(context.Background(), cache.EventsKey(model.DisciplineXC), []model.Event{{ID: "pre", EventType: model.DisciplineXC}})
	c := New(Opts{BaseURL: ts.URL, HTTPClient: ts.Client(), Events: events})

	got, err := c.EventsByType(context.Background(), model.DisciplineXC)
	require.NoError(t, err)
	assert.Equal(t, "pre", got[0].ID)
	assert.Zero(t, api.listCalls.Load())

	c.ClearCache(context.Background())
	assert.Zero(t, events.Len())
}
