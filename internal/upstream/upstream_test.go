package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cyclecal/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testBreaker = BreakerSettings{
	MaxRequests:         1,
	Interval:            time.Minute,
	Timeout:             time.Minute,
	ConsecutiveFailures: 1,
}

func TestRegistrations(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/b2c2lookup.php", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"EventID":12345,"Name":"Jane Doe"},{"EventID":12345,"Name":"John Roe"},{"EventID":777,"Name":"Ann"}]`))
	}))
	defer srv.Close()

	c := NewResultsClient(srv.URL, srv.Client(), testBreaker, zap.NewNop())
	regs, err := c.Registrations(context.Background(), model.DisciplineCX, time.Date(2025, 3, 2, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, "after=2025-03-02&discipline=cyclocross", gotQuery)
	assert.Equal(t, []string{"Jane Doe", "John Roe"}, regs.For("12345"))
	assert.Equal(t, []string{"Ann"}, regs.For("777"))
	assert.Empty(t, regs.For("1"))
}

func TestRegistrationsRejectsSpecialEvents(t *testing.T) {
	c := NewResultsClient("http://unused", http.DefaultClient, testBreaker, zap.NewNop())
	_, err := c.Registrations(context.Background(), model.DisciplineSpecial, time.Now())
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestRegistrationsBreakerOpensOnServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewResultsClient(srv.URL, srv.Client(), testBreaker, zap.NewNop())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Registrations(ctx, model.DisciplineRoad, time.Now())
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, 2, calls, "breaker opens after more than one consecutive failure")
}

func TestEventByURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Query, "athleticEventByUrl")

		if req.Variables["url"] == "https://www.bikereg.com/missing" {
			w.Write([]byte(`{"data":{"athleticEventByUrl":null}}`))
			return
		}
		w.Write([]byte(`{"data":{"athleticEventByUrl":{"eventId":12345,"name":"Hilly Road Race","startDate":"2025-06-14","city":"Ames","state":"IA"}}}`))
	}))
	defer srv.Close()

	c := NewEventSourceClient(srv.URL, srv.Client(), testBreaker, zap.NewNop())
	ctx := context.Background()

	ev, err := c.EventByURL(ctx, "https://www.bikereg.com/hilly-road-race")
	require.NoError(t, err)
	assert.Equal(t, "12345", ev.ID())
	assert.Equal(t, "Hilly Road Race", ev.Name)
	date, err := ev.Date()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC), date)

	_, err = c.EventByURL(ctx, "https://www.bikereg.com/missing")
	assert.ErrorIs(t, err, ErrEventNotFound)

	// not-found answers do not trip the breaker
	_, err = c.EventByURL(ctx, "https://www.bikereg.com/missing")
	assert.ErrorIs(t, err, ErrEventNotFound)
	_, err = c.EventByURL(ctx, "https://www.bikereg.com/hilly-road-race")
	assert.NoError(t, err)
}

func TestEventByURLGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"bad url"}]}`))
	}))
	defer srv.Close()

	c := NewEventSourceClient(srv.URL, srv.Client(), testBreaker, zap.NewNop())
	_, err := c.EventByURL(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad url")
}
