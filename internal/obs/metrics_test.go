package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":         "/",
		"/metrics": "/metrics",
		"/v1/users/01ARZ3NDEKTSV4RRFFQ69G5FAV":             "/v1/users/:id",
		"/v1/roles/01ARZ3NDEKTSV4RRFFQ69G5FAV/permissions": "/v1/roles/:id/permissions",
		"/v1/users/not-a-ulid":                             "/v1/users/not-a-ulid",
		"/v1/users?page=2":                                 "/v1/users",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentUsesLabeler(t *testing.T) {
	h := Instrument(func(*http.Request) string { return "/v1/things/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/things/{id}", "418"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/things/abc", nil))

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/things/{id}", "418"))
	assert.Equal(t, before+1, after)
	assert.Zero(t, testutil.ToFloat64(httpInFlight))
}

func TestRecordCleanupIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(cleanupDeleted.WithLabelValues("tokens"))
	RecordCleanup("tokens", 0)
	RecordCleanup("tokens", 3)
	assert.Equal(t, before+3, testutil.ToFloat64(cleanupDeleted.WithLabelValues("tokens")))
}

func TestSetLevel(t *testing.T) {
	SetLevel("debug")
	assert.Equal(t, "debug", Logger().GetLevel().String())
	SetLevel("loud")
	assert.Equal(t, "info", Logger().GetLevel().String())
}
