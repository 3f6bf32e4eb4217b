package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("/pdfs", "GET", "200"))
	ObserveRequest("/pdfs", "GET", "200", 5*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("/pdfs", "GET", "200"))
	assert.Equal(t, before+1, after)

	ObserveRequest("", "GET", "404", time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(HTTPRequests.WithLabelValues("unmatched", "GET", "404")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ViewsIncremented.WithLabelValues("pdfs", "ok").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "library_views_incremented_total")
	assert.Contains(t, string(body), "go_goroutines")
}
