package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	CacheRequests.WithLabelValues("events", "hit").Inc()
	EventMutations.WithLabelValues("update").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cyclecal_cache_requests_total{cache="events",result="hit"}`)
	assert.Contains(t, string(body), `cyclecal_event_mutations_total{kind="update"}`)
}
