package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	ready     bool
	status    any
	statusErr error
}

func (f *fakeProvider) Ready(context.Context) bool { return f.ready }

func (f *fakeProvider) Status(context.Context) (any, error) {
	return f.status, f.statusErr
}

func doGet(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body Response
	if rec.Code != http.StatusTemporaryRedirect {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestLiveness(t *testing.T) {
	t.Parallel()
	router := NewRouter(&fakeProvider{})

	rec, body := doGet(t, router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body.Status)
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		router := NewRouter(&fakeProvider{ready: true})
		rec, body := doGet(t, router, "/health/ready")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", body.Status)
	})

	t.Run("not ready", func(t *testing.T) {
		t.Parallel()
		router := NewRouter(&fakeProvider{ready: false})
		rec, body := doGet(t, router, "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "unhealthy", body.Status)
	})

	t.Run("nil provider", func(t *testing.T) {
		t.Parallel()
		router := NewRouter(nil)
		rec, _ := doGet(t, router, "/health/ready")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestStatus(t *testing.T) {
	t.Parallel()

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		router := NewRouter(&fakeProvider{
			status: map[string]any{"isLeader": true, "requests": 42.0},
		})
		rec, body := doGet(t, router, "/status")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", body.Status)

		doc, ok := body.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, doc["isLeader"])
		assert.Equal(t, 42.0, doc["requests"])
	})

	t.Run("provider error", func(t *testing.T) {
		t.Parallel()
		router := NewRouter(&fakeProvider{statusErr: errors.New("blob store unreachable")})
		rec, body := doGet(t, router, "/status")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, body.Error, "blob store unreachable")
	})
}

func TestRootRedirectsToHealth(t *testing.T) {
	t.Parallel()
	router := NewRouter(&fakeProvider{})
	rec, _ := doGet(t, router, "/")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/health", rec.Header().Get("Location"))
}

func TestMetricsRouteAbsentWhenDisabled(t *testing.T) {
	router := NewRouter(&fakeProvider{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
