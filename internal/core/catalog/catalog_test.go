package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()

	c := NewStatic(
		TaskDefinition{ID: "b", RewardAmount: decimal.NewFromInt(3), Active: true},
		TaskDefinition{ID: "a", RewardAmount: decimal.NewFromInt(1), Active: true},
		TaskDefinition{ID: "off", RewardAmount: decimal.NewFromInt(9)},
	)

	active, err := c.ListActiveTasks(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "b", active[1].ID)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = GetActive(ctx, c, "off")
	assert.ErrorIs(t, err, ErrTaskInactive)

	d, err := GetActive(ctx, c, "a")
	require.NoError(t, err)
	assert.True(t, d.RewardAmount.Equal(decimal.NewFromInt(1)))
}

func writeCatalog(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestFileCatalog_Load(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	writeCatalog(t, filepath.Join(dir, "social.yaml"), `
tasks:
  - id: follow-channel
    title: Follow the channel
    reward: 2.50
    category: social
    difficulty: easy
    min_engagement_seconds: 10
  - id: retired
    reward: "1"
    active: false
`)
	writeCatalog(t, filepath.Join(dir, "nested", "survey.yaml"), `
tasks:
  - id: survey
    reward: "3.00"
`)

	c := NewFileCatalog(filepath.Join(dir, "**", "*.yaml"))
	n, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	active, err := c.ListActiveTasks(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "follow-channel", active[0].ID)
	assert.True(t, active[0].RewardAmount.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, 10, active[0].MinEngagementSeconds)
	assert.Equal(t, "survey", active[1].ID)

	retired, err := c.Get(ctx, "retired")
	require.NoError(t, err)
	assert.False(t, retired.Active)
}

func TestFileCatalog_LoadKeepsPreviousOnError(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")

	writeCatalog(t, path, "tasks:\n  - id: a\n    reward: 1\n")
	c := NewFileCatalog(filepath.Join(dir, "*.yaml"))
	_, err := c.Load(ctx)
	require.NoError(t, err)

	writeCatalog(t, path, "tasks:\n  - id: a\n    reward: -1\n")
	_, err = c.Load(ctx)
	require.Error(t, err)

	d, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, d.RewardAmount.Equal(decimal.NewFromInt(1)))
}

func TestFileCatalog_NoFiles(t *testing.T) {
	c := NewFileCatalog(filepath.Join(t.TempDir(), "*.yaml"))
	n, err := c.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTaskDefinition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		def     TaskDefinition
		wantErr bool
	}{
		{"valid", TaskDefinition{ID: "follow", RewardAmount: decimal.RequireFromString("2.50")}, false},
		{"free task", TaskDefinition{ID: "intro"}, false},
		{"missing id", TaskDefinition{RewardAmount: decimal.NewFromInt(1)}, true},
		{"id with space", TaskDefinition{ID: "follow me"}, true},
		{"negative reward", TaskDefinition{ID: "x", RewardAmount: decimal.NewFromInt(-1)}, true},
		{"negative engagement", TaskDefinition{ID: "x", MinEngagementSeconds: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "Validate() error = %v", err)
		})
	}
}
