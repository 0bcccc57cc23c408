package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/closedloop/internal/config"
	"github.com/san-kum/closedloop/internal/dynamo"
	"github.com/san-kum/closedloop/internal/experiment"
)

func sampleResult() *experiment.Result {
	return &experiment.Result{
		Model:        "seir",
		Channel:      "seir",
		Compartments: []string{"S", "E", "I", "R"},
		States: []dynamo.State{
			{990, 0, 10, 0},
			{985.5, 4.5, 9, 1},
			{979.25, 8.125, 10.125, 2.5},
		},
		Scalars: map[string][]float64{
			"r0": {math.NaN(), 2.5, 1.25},
		},
		Metrics:    map[string]float64{"peak_infectious": 10.125, "attack_rate": 0.0108},
		StepsTaken: 2,
		Done:       true,
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := NewDirStore(filepath.Join(t.TempDir(), "runs"))
	require.NoError(t, dir.Init())

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Store{"dir": dir, "sqlite": db}
}

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	cfg := config.GetPreset("seir", "controlled")
	cfg.Seed = 42

	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id, err := st.Save(ctx, cfg, sampleResult())
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(id, "seir_"))

			meta, err := st.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, id, meta.ID)
			assert.Equal(t, "seir", meta.Model)
			assert.Equal(t, "sequential", meta.Order)
			assert.Equal(t, int64(42), meta.Seed)
			assert.Equal(t, 2, meta.Ticks)
			assert.True(t, meta.Done)
			assert.Equal(t, []string{"S", "E", "I", "R"}, meta.Compartments)
			assert.Equal(t, 10.125, meta.Metrics["peak_infectious"])
			assert.WithinDuration(t, time.Now(), meta.Timestamp, time.Minute)

			snapshot, err := ScenarioOf(meta)
			require.NoError(t, err)
			assert.Equal(t, cfg.SEIR, snapshot.SEIR)
			assert.Equal(t, cfg.Schedule, snapshot.Schedule)

			series, err := st.LoadStates(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, [][]float64{
				{990, 0, 10, 0},
				{985.5, 4.5, 9, 1},
				{979.25, 8.125, 10.125, 2.5},
			}, series.States)

			r0 := series.Scalars["r0"]
			require.Len(t, r0, 3)
			assert.True(t, math.IsNaN(r0[0]))
			assert.Equal(t, []float64{2.5, 1.25}, r0[1:])

			col, ok := series.Column("I")
			require.True(t, ok)
			assert.Equal(t, []float64{10, 9, 10.125}, col)
			_, ok = series.Column("missing")
			assert.False(t, ok)
		})
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			runs, err := st.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, runs)

			first, err := st.Save(ctx, config.DefaultConfig(), sampleResult())
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
			second, err := st.Save(ctx, config.DefaultConfig(), sampleResult())
			require.NoError(t, err)
			assert.NotEqual(t, first, second)

			runs, err = st.List(ctx)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, first, runs[0].ID)
			assert.Equal(t, second, runs[1].ID)
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Load(ctx, "seir_nope")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = st.LoadStates(ctx, "seir_nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDirStore_ListMissingDir(t *testing.T) {
	st := NewDirStore(filepath.Join(t.TempDir(), "absent"))
	runs, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDirStore_FilesOnDisk(t *testing.T) {
	base := t.TempDir()
	st := NewDirStore(base)
	id, err := st.Save(context.Background(), config.DefaultConfig(), sampleResult())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(base, id, "states.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "tick,S,E,I,R,r0", lines[0])
	assert.Equal(t, "0,990,0,10,0,NaN", lines[1])
	assert.Equal(t, "2,979.25,8.125,10.125,2.5,1.25", lines[3])
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(config.StoreConfig{Driver: "dir", Path: filepath.Join(dir, "runs")})
	require.NoError(t, err)
	assert.IsType(t, &DirStore{}, st)
	assert.DirExists(t, filepath.Join(dir, "runs"))

	st, err = Open(config.StoreConfig{Driver: "sqlite", Path: filepath.Join(dir, "runs.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, st)
	require.NoError(t, st.Close())

	_, err = Open(config.StoreConfig{Driver: "redis"})
	assert.Error(t, err)
}

func TestExportJSON(t *testing.T) {
	res := sampleResult()
	meta := &RunMetadata{ID: "seir_1", Model: "seir", Ticks: 2, Metrics: res.Metrics}

	var buf bytes.Buffer
	require.NoError(t, ExportJSON(&buf, meta, seriesOf(res)))

	var got struct {
		ID      string                `json:"id"`
		States  [][]float64           `json:"states"`
		Scalars map[string][]*float64 `json:"scalars"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "seir_1", got.ID)
	assert.Len(t, got.States, 3)
	require.Len(t, got.Scalars["r0"], 3)
	assert.Nil(t, got.Scalars["r0"][0])
	assert.Equal(t, 2.5, *got.Scalars["r0"][1])
}
