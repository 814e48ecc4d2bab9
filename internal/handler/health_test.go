package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"busfleet/internal/cache"
	"busfleet/internal/domain"
	"busfleet/internal/insight"
	"busfleet/internal/query"
	"busfleet/internal/store"
)

// brokenStore answers nothing.
type brokenStore struct {
	*store.MemoryStore
}

var errStoreDown = errors.New("connection refused")

func (brokenStore) Ping(context.Context) error { return errStoreDown }

func (brokenStore) FindStopByName(context.Context, string) (domain.Stop, error) {
	return domain.Stop{}, errStoreDown
}

func (brokenStore) ListStops(context.Context) ([]domain.Stop, error) { return nil, errStoreDown }

func TestHealthHandler_Healthz(t *testing.T) {
	h := NewHealthHandler(store.NewMemoryStore(), &fakeSim{})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHealthHandler_Readyz(t *testing.T) {
	readyz := func(s store.Store) (*httptest.ResponseRecorder, ReadyResponse) {
		rec := httptest.NewRecorder()
		NewHealthHandler(s, &fakeSim{running: true}).Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec, decode[ReadyResponse](t, rec)
	}

	t.Run("empty store", func(t *testing.T) {
		rec, resp := readyz(store.NewMemoryStore())
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.True(t, resp.StoreOK)
		assert.False(t, resp.Ready)
	})

	t.Run("seeded", func(t *testing.T) {
		ts := newTestServer(t, nil)
		rec, resp := readyz(ts.store)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.Ready)
		assert.Equal(t, 22, resp.Stops)
		assert.Equal(t, 18, resp.Buses)
		assert.True(t, resp.SimulationRunning)
	})

	t.Run("store down", func(t *testing.T) {
		rec, resp := readyz(brokenStore{store.NewMemoryStore()})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.False(t, resp.StoreOK)
	})
}

func TestHTTPHandler_StoreFailures(t *testing.T) {
	logger := discardLogger()
	s := brokenStore{store.NewMemoryStore()}
	mux := http.NewServeMux()
	NewHTTPHandler(
		query.NewService(s, logger),
		cache.NewCatalog(nil, s, 0, logger),
		&fakeSim{},
		func(context.Context) error { return errStoreDown },
		insight.NewAdapter(nil, logger),
		logger,
	).Routes(mux)

	tests := []struct {
		method, path, body string
		wantDetail         string
	}{
		{http.MethodPost, "/api/find-buses", `{"from_stop":"a","to_stop":"b"}`, "Error finding buses"},
		{http.MethodGet, "/api/stops", "", "Internal server error"},
		{http.MethodPost, "/api/initialize-data", "", "Error initializing data"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			require.Equal(t, http.StatusInternalServerError, rec.Code)
			assert.Equal(t, tc.wantDetail, decode[errorResponse](t, rec).Detail)
			assert.NotContains(t, rec.Body.String(), "connection refused")
		})
	}
}
