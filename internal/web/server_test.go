package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/earn/internal/core/catalog"
	"github.com/colonyops/earn/internal/core/completion"
	"github.com/colonyops/earn/internal/core/eventbus/testbus"
	"github.com/colonyops/earn/internal/data/db"
	"github.com/colonyops/earn/internal/data/stores"
	"github.com/colonyops/earn/internal/earn"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newLoggedTestServer(t, zerolog.Nop())
}

func newLoggedTestServer(t *testing.T, httpLog zerolog.Logger) *httptest.Server {
	t.Helper()

	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	retired := catalog.TaskDefinition{ID: "retired", RewardAmount: decimal.RequireFromString("1")}
	cat := catalog.NewStatic(
		catalog.TaskDefinition{ID: "follow", Title: "Follow", RewardAmount: decimal.RequireFromString("2.50"), Active: true},
		retired,
	)

	var (
		store  = stores.NewCompletionStore(database)
		tb     = testbus.New(t)
		log    = zerolog.Nop()
		ledger = earn.NewLedger(store, stores.NewKVStore(database), time.Minute, log)
	)

	svc := earn.NewRewardService(store, cat, ledger, tb.EventBus, earn.ReviewOptions{Window: time.Hour}, log)
	t.Cleanup(svc.Close)

	srv := httptest.NewServer(New(svc, httpLog).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestServer_Lifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, srv, http.MethodGet, "/users/u1/tasks/follow", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(completion.StatusNotStarted), body["status"])

	resp, body = do(t, srv, http.MethodPost, "/users/u1/tasks/follow/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(completion.StatusStarted), body["status"])

	resp, body = do(t, srv, http.MethodPost, "/users/u1/tasks/follow/submit", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(completion.StatusReviewing), body["status"])
	assert.Equal(t, "2.5", body["reward"])

	resp, body = do(t, srv, http.MethodGet, "/users/u1/tasks/follow/remaining", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Greater(t, body["seconds"], float64(3500))

	resp, body = do(t, srv, http.MethodPost, "/users/u1/tasks/follow/approve", `{"reward":"4.00","note":"bonus"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(completion.StatusCompleted), body["status"])
	assert.Equal(t, "manual: bonus", body["approval_note"])

	// Repeat approval is idempotent.
	resp, _ = do(t, srv, http.MethodPost, "/users/u1/tasks/follow/approve", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = do(t, srv, http.MethodGet, "/users/u1/earnings?entries=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "4", body["total"])
	assert.Len(t, body["entries"], 1)
}

func TestServer_Session(t *testing.T) {
	srv := newTestServer(t)

	do(t, srv, http.MethodPost, "/users/u1/tasks/follow/start", "")
	do(t, srv, http.MethodPost, "/users/u1/tasks/follow/submit", "")

	resp, body := do(t, srv, http.MethodDelete, "/users/u1/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["cancelled"])

	resp, body = do(t, srv, http.MethodPost, "/users/u1/session", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["armed"])
}

func TestServer_Errors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown task", http.MethodPost, "/users/u1/tasks/missing/start", "", http.StatusNotFound},
		{"inactive task", http.MethodPost, "/users/u1/tasks/retired/start", "", http.StatusConflict},
		{"submit before start", http.MethodPost, "/users/u1/tasks/follow/submit", "", http.StatusConflict},
		{"approve before submit", http.MethodPost, "/users/u1/tasks/follow/approve", "", http.StatusConflict},
		{"bad approve body", http.MethodPost, "/users/u1/tasks/follow/approve", "{", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_ListTasks(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/tasks")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tasks []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "follow", tasks[0]["id"])
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServer_CompletedTask(t *testing.T) {
	var logs lockedBuffer
	srv := newLoggedTestServer(t, zerolog.New(&logs).Level(zerolog.DebugLevel).With().Str("cmp", "http").Logger())

	for _, step := range []string{"start", "submit", "approve"} {
		resp, _ := do(t, srv, http.MethodPost, "/users/u1/tasks/follow/"+step, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, step)
	}

	for _, step := range []string{"start", "submit"} {
		resp, body := do(t, srv, http.MethodPost, "/users/u1/tasks/follow/"+step, "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode, step)
		assert.Contains(t, body["error"], "already completed")
	}

	// A second approval returns the stored record.
	resp, body := do(t, srv, http.MethodPost, "/users/u1/tasks/follow/approve", `{"reward": "9.00"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(completion.StatusCompleted), body["status"])
	assert.Equal(t, "2.5", body["earnings"])

	require.Eventually(t, func() bool {
		return strings.Count(logs.String(), "\n") >= 6
	}, time.Second, 5*time.Millisecond)

	out := logs.String()
	assert.NotContains(t, out, "request failed")
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "http", entry["cmp"])
		assert.NotContains(t, entry, "component")
	}
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(completion.ErrAlreadyCompleted))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(completion.ErrStoreUnavailable))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(completion.ErrEngagementTooShort))
	assert.Equal(t, http.StatusBadRequest, statusFor(completion.ErrMissingIdentity))
}
