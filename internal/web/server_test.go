package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestauk/asf-core-data/internal/config"
	"github.com/nestauk/asf-core-data/internal/store"
	"github.com/nestauk/asf-core-data/internal/web/handlers"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *store.SQLStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cfg := DefaultConfig()
	cfg.APIKey = apiKey
	return NewServer(cfg, st), st
}

func seedRun(t *testing.T, st store.Store) string {
	t.Helper()
	ctx := context.Background()

	run, err := st.CreateRun(ctx, store.RunInput{EPCPath: "epc.csv", MCSPath: "mcs.xlsx", MatchingParameter: 0.7, Mode: "best"})
	require.NoError(t, err)

	require.NoError(t, st.SaveMatches(ctx, run.ID, []store.MatchRecord{
		{MCSRow: 0, EPCRow: 2, UPRN: "100", MCSAddress: "12 high street", EPCAddress: "12 high street", Postcode: "AB12CD", AddressScore: 1},
	}))

	installed := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveProperties(ctx, run.ID, []store.PropertyRecord{
		{UPRN: "100", LMKKey: "lmk-1", HeatingSystem: "heat pump", HPInstalled: true, InstallDate: &installed, InstallDateSource: "MCS", MCSAvailable: true, HasHPAtSomePoint: true},
	}))
	require.NoError(t, st.CompleteRun(ctx, run.ID, store.RunStats{Matches: 1, Properties: 1}))
	return run.ID
}

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := get(t, srv.Handler(), "/api/health", map[string]string{"Origin": "http://localhost:3000"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_RunEndpoints(t *testing.T) {
	srv, st := newTestServer(t, "")
	runID := seedRun(t, st)
	h := srv.Handler()

	t.Run("list", func(t *testing.T) {
		rec := get(t, h, "/api/runs", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.RunsListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Runs, 1)
		assert.Equal(t, runID, resp.Runs[0].ID)
		assert.Equal(t, 1, resp.Page)
	})

	t.Run("list by status", func(t *testing.T) {
		rec := get(t, h, "/api/runs?status=failed", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.RunsListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Runs)
	})

	t.Run("get", func(t *testing.T) {
		rec := get(t, h, "/api/runs/"+runID, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var run store.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		assert.Equal(t, store.RunStatusComplete, run.Status)
		require.NotNil(t, run.Stats)
		assert.Equal(t, 1, run.Stats.Matches)
	})

	t.Run("matches", func(t *testing.T) {
		rec := get(t, h, "/api/runs/"+runID+"/matches", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp handlers.MatchesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Total)
		assert.Equal(t, "100", resp.Matches[0].UPRN)
	})

	t.Run("property", func(t *testing.T) {
		rec := get(t, h, "/api/runs/"+runID+"/properties/100", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var prop store.PropertyRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prop))
		assert.True(t, prop.HPInstalled)
		assert.Equal(t, "MCS", prop.InstallDateSource)
		require.NotNil(t, prop.InstallDate)
		assert.Equal(t, "2020-01-01", prop.InstallDate.Format("2006-01-02"))
	})
}

func TestServer_NotFound(t *testing.T) {
	srv, st := newTestServer(t, "")
	runID := seedRun(t, st)
	h := srv.Handler()

	tests := []struct {
		name string
		path string
	}{
		{"run", "/api/runs/missing"},
		{"unknown uuid", "/api/runs/6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"property of malformed run", "/api/runs/abc/properties/100"},
		{"matches", "/api/runs/missing/matches"},
		{"property", "/api/runs/" + runID + "/properties/999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.path, nil)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestServer_APIKey(t *testing.T) {
	srv, _ := newTestServer(t, "secret")
	h := srv.Handler()

	rec := get(t, h, "/api/runs", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(t, h, "/api/runs", map[string]string{"X-API-Key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(t, h, "/api/runs", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFromServerConfig(t *testing.T) {
	cfg := FromServerConfig(config.ServerConfig{Port: 9090, APIKey: "k"})
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, "k", cfg.APIKey)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, "")
	srv.httpServer.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
