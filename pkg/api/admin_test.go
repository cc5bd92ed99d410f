package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refreshd/pkg/api"
	"refreshd/pkg/models"
	"refreshd/pkg/resilience"
	"refreshd/pkg/storage"
)

func seedRun(t *testing.T, runs storage.RunStore, logs storage.LogStore, status models.RunStatus) *models.Run {
	t.Helper()
	ctx := context.Background()
	run := &models.Run{
		ID:        uuid.New(),
		Trigger:   models.TriggerWebhook,
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	require.NoError(t, runs.CreateRun(ctx, run))

	logURI := ""
	if logs != nil {
		var err error
		logURI, err = logs.Store(ctx, run.ID.String(), []byte("[export] $ python3 export.py\n"))
		require.NoError(t, err)
	}
	require.NoError(t, runs.CompleteRun(ctx, run.ID, status, "", "", logURI, time.Now().UTC()))
	return run
}

func adminGet(s *api.AdminServer, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestAdmin_ListAndGetRuns(t *testing.T) {
	runs := storage.NewMemoryRunStore(10)
	first := seedRun(t, runs, nil, models.RunFailed)
	second := seedRun(t, runs, nil, models.RunSuccess)
	s := api.NewAdminServer(api.AdminConfig{Runs: runs})

	w := adminGet(s, "/runs?limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Runs  []models.Run `json:"runs"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, second.ID, list.Runs[0].ID, "newest run first")

	w = adminGet(s, "/runs/"+first.ID.String())
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.RunFailed, got.Status)
}

func TestAdmin_RunErrors(t *testing.T) {
	s := api.NewAdminServer(api.AdminConfig{Runs: storage.NewMemoryRunStore(10)})

	assert.Equal(t, http.StatusBadRequest, adminGet(s, "/runs/not-a-uuid").Code)
	assert.Equal(t, http.StatusNotFound, adminGet(s, "/runs/"+uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, adminGet(s, "/runs?limit=0").Code)
}

func TestAdmin_RunLog(t *testing.T) {
	runs := storage.NewMemoryRunStore(10)
	logs, err := storage.NewLocalLogStore(t.TempDir())
	require.NoError(t, err)
	withLog := seedRun(t, runs, logs, models.RunSuccess)
	withoutLog := seedRun(t, runs, nil, models.RunSuccess)
	s := api.NewAdminServer(api.AdminConfig{Runs: runs, Logs: logs})

	w := adminGet(s, "/runs/"+withLog.ID.String()+"/log")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "[export] $ python3 export.py")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")

	assert.Equal(t, http.StatusNotFound, adminGet(s, "/runs/"+withoutLog.ID.String()+"/log").Code)
}

func TestAdmin_StatusAndMetrics(t *testing.T) {
	runs := storage.NewMemoryRunStore(10)
	seedRun(t, runs, nil, models.RunSuccess)
	breaker := resilience.NewCircuitBreaker("refresh", resilience.DefaultCircuitBreakerConfig())
	s := api.NewAdminServer(api.AdminConfig{Runs: runs, Breaker: breaker})

	w := adminGet(s, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
	assert.Contains(t, status, "breaker")
	assert.Contains(t, status, "last_run")

	w = adminGet(s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "refreshd_http_requests_total")
}
