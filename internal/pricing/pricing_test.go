package pricing

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/genstudio/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestComputeCostDefaults(t *testing.T) {
	rules := DefaultRules()
	cases := []struct {
		name  string
		plan  models.PlanTier
		gt    models.GenerationType
		count int
		want  int64
	}{
		{"enterprise video is free", models.PlanEnterprise, models.GenerationVideo, 100, 0},
		{"free apparel", models.PlanFree, models.GenerationApparel, 3, 6},
		{"free video", models.PlanFree, models.GenerationVideo, 1, 5},
		{"starter product", models.PlanStarter, models.GenerationProduct, 4, 4},
		{"professional apparel multiplier", models.PlanProfessional, models.GenerationApparel, 5, 8},
		{"professional video override", models.PlanProfessional, models.GenerationVideo, 1, 3},
		{"professional product rounds up to minimum", models.PlanProfessional, models.GenerationProduct, 1, 1},
		{"professional product rounds to nearest", models.PlanProfessional, models.GenerationProduct, 3, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeCost(rules, tc.plan, tc.gt, tc.count)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestComputeCostRejectsInvalidInput(t *testing.T) {
	rules := DefaultRules()

	_, err := ComputeCost(rules, models.PlanFree, models.GenerationApparel, 0)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = ComputeCost(rules, models.PlanFree, models.GenerationType("audio"), 1)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = ComputeCost(rules, models.PlanTier("gold"), models.GenerationVideo, 1)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestCostForNormalizesCount(t *testing.T) {
	table, err := NewTable(nil, discardLogger())
	require.NoError(t, err)

	got, err := table.CostFor(models.PlanFree, models.GenerationApparel, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	got, err = table.CostFor(models.PlanFree, models.GenerationApparel, -4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	_, err = table.ComputeCost(models.PlanFree, models.GenerationApparel, 0)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestTableReplaceKeepsRulesOnInvalidInput(t *testing.T) {
	table, err := NewTable(nil, discardLogger())
	require.NoError(t, err)

	bad := Rules{models.PlanFree: {Multiplier: -1}}
	require.Error(t, table.Replace(bad))

	got, err := table.ComputeCost(models.PlanFree, models.GenerationVideo, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	require.NoError(t, table.Replace(Rules{models.PlanFree: {Multiplier: 2}}))
	got, err = table.ComputeCost(models.PlanFree, models.GenerationVideo, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)
}

func TestLoadFileMergesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := `
plans:
  starter:
    multiplier: 1.5
    monthly_credits: 150
    overrides:
      product: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadFile(path)
	require.NoError(t, err)

	starter := rules[models.PlanStarter]
	assert.Equal(t, 1.5, starter.Multiplier)
	assert.Equal(t, int64(150), starter.MonthlyCredits)

	got, err := ComputeCost(rules, models.PlanStarter, models.GenerationProduct, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got)

	assert.True(t, rules[models.PlanEnterprise].Unlimited)
	assert.Equal(t, int64(10), rules[models.PlanFree].MonthlyCredits)
}

func TestLoadFileRejectsUnknownGenerationType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	content := `
plans:
  free:
    overrides:
      audio: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plans:\n  free:\n    multiplier: 1\n"), 0o600))

	table, err := NewTable(nil, discardLogger())
	require.NoError(t, err)

	w := NewWatcher(path, table, discardLogger())
	w.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("plans:\n  free:\n    multiplier: 3\n"), 0o600))

	assert.Eventually(t, func() bool {
		cost, err := table.ComputeCost(models.PlanFree, models.GenerationProduct, 1)
		return err == nil && cost == 3
	}, 3*time.Second, 20*time.Millisecond)
}
