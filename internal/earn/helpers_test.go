package earn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/earn/internal/core/catalog"
	"github.com/colonyops/earn/internal/core/eventbus/testbus"
	"github.com/colonyops/earn/internal/data/db"
	"github.com/colonyops/earn/internal/data/stores"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func task(id, reward string) catalog.TaskDefinition {
	return catalog.TaskDefinition{
		ID:           id,
		Title:        id,
		RewardAmount: decimal.RequireFromString(reward),
		Active:       true,
	}
}

type testEnv struct {
	svc     *RewardService
	store   *stores.CompletionStore
	kv      *stores.KVStore
	catalog *catalog.Static
	bus     *testbus.Bus
	db      *db.DB
}

func openDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func newTestEnv(t *testing.T, window time.Duration, tasks ...catalog.TaskDefinition) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, openDB(t), window, tasks...)
}

func newTestEnvWithDB(t *testing.T, database *db.DB, window time.Duration, tasks ...catalog.TaskDefinition) *testEnv {
	t.Helper()

	var (
		store   = stores.NewCompletionStore(database)
		kvStore = stores.NewKVStore(database)
		cat     = catalog.NewStatic(tasks...)
		tb      = testbus.New(t)
		log     = zerolog.Nop()
		ledger  = NewLedger(store, kvStore, time.Minute, log)
	)
	ledger.Subscribe(tb.EventBus)

	svc := NewRewardService(store, cat, ledger, tb.EventBus, ReviewOptions{
		Window:       window,
		FireRetries:  2,
		RetryBackoff: time.Millisecond,
	}, log)
	t.Cleanup(svc.Close)

	return &testEnv{svc: svc, store: store, kv: kvStore, catalog: cat, bus: tb, db: database}
}

// useClock points the service and its scheduler at clock.
func (e *testEnv) useClock(clock *fakeClock) {
	e.svc.now = clock.Now
	e.svc.sched.now = clock.Now
}

func mustStart(t *testing.T, svc *RewardService, userID, taskID string) {
	t.Helper()
	_, err := svc.StartTask(context.Background(), userID, taskID)
	require.NoError(t, err)
}

func mustSubmit(t *testing.T, svc *RewardService, userID, taskID string) {
	t.Helper()
	mustStart(t, svc, userID, taskID)
	_, err := svc.SubmitTask(context.Background(), userID, taskID)
	require.NoError(t, err)
}
