package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applybot/jobtracker/internal/config"
	"github.com/applybot/jobtracker/internal/job"
	"github.com/applybot/jobtracker/internal/worker"
)

// fakeQueue records enqueued ids without running anything.
type fakeQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *fakeQueue) Enqueue(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
}

func (q *fakeQueue) Stats() worker.Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return worker.Stats{Queued: len(q.ids), Alive: true}
}

func (q *fakeQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

func newTestStore(t *testing.T) job.Store {
	store, err := job.OpenSQLStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestRouter(t *testing.T, store job.Store, queue Queue) http.Handler {
	cfg := config.Default()
	cfg.InstanceName = "test-node"
	logger, _ := test.NewNullLogger()
	return NewRouter(cfg, store, queue, logger)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t, newTestStore(t), &fakeQueue{})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestInfo(t *testing.T) {
	router := newTestRouter(t, newTestStore(t), &fakeQueue{})

	req := httptest.NewRequest("GET", "/info", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "test-node", resp["instance"])
	assert.Equal(t, config.Version, resp["version"])
	assert.Equal(t, "sqlite", resp["job_store"])
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	queue := &fakeQueue{}
	router := newTestRouter(t, store, queue)

	ctx := t.Context()
	_, err := store.Create(ctx, nil)
	require.NoError(t, err)
	id, err := store.Create(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(ctx, id, job.StatusUpdate{Status: job.StatusFailed, Error: job.String("x")}))
	queue.Enqueue("pending")

	req := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Jobs   map[string]int `json:"jobs"`
		Worker worker.Stats   `json:"worker"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Jobs["queued"])
	assert.Equal(t, 1, resp.Jobs["failed"])
	assert.Equal(t, 0, resp.Jobs["running"])
	assert.Equal(t, 1, resp.Worker.Queued)
}
