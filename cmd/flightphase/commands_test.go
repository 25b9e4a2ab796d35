package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/flightphase/internal/archive"
	"github.com/yegors/flightphase/internal/config"
	"github.com/yegors/flightphase/internal/storage/sqlite"
	"github.com/yegors/flightphase/pkg/logger"
)

// writeFlightCSV writes a ground, climb, cruise, descent, ground profile at a
// five second cadence
func writeFlightCSV(t *testing.T, path, icao string) {
	t.Helper()
	type stage struct{ seconds, roc, spd float64 }
	stages := []stage{{300, 0, 0}, {1200, 1500, 250}, {2400, 0, 450}, {1200, -1500, 250}, {300, 0, 0}}

	var b strings.Builder
	b.WriteString("icao,ts,lat,lon,alt,spd,hdg,roc\n")
	ts, alt := 1_600_000_000.0, 0.0
	for _, s := range stages {
		for el := 0.0; el < s.seconds; el += 5 {
			fmt.Fprintf(&b, "%s,%.0f,51.47,-0.45,%.1f,%.0f,,%.0f\n", icao, ts, alt, s.spd, s.roc)
			ts += 5
			alt = math.Max(0, alt+s.roc*5/60)
		}
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Input.Source = "csv"
	cfg.Input.CSVPath = filepath.Join(dir, "positions.csv")
	cfg.Storage.SQLitePath = filepath.Join(dir, "db", "flightphase.db")
	cfg.Storage.ArchivePath = filepath.Join(dir, "run.msgpack.zst")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRunExtract(t *testing.T) {
	cfg := testConfig(t)
	writeFlightCSV(t, cfg.Input.CSVPath, "4CA1FA")

	ctx := context.Background()
	require.NoError(t, runExtract(ctx, cfg, logger.NewNop()))

	store, err := sqlite.NewStore(cfg.Storage.SQLitePath, logger.NewNop())
	require.NoError(t, err)
	defer store.Close()

	flights, err := store.Flights(ctx, "4ca1fa")
	require.NoError(t, err)
	require.Len(t, flights, 1)
	assert.True(t, math.IsNaN(flights[0].Hdg[0]))

	segs, err := store.Segments(ctx, "4ca1fa")
	require.NoError(t, err)
	phases := make(map[string]bool)
	for _, s := range segs {
		phases[s.Phase] = true
	}
	for _, want := range []string{"GROUND", "CLIMB", "CRUISE", "DESCEND"} {
		assert.True(t, phases[want], "no %s segment", want)
	}

	bundle, err := archive.Read(cfg.Storage.ArchivePath)
	require.NoError(t, err)
	assert.Len(t, bundle.Flights, 1)
	assert.Len(t, bundle.Segments, len(segs))

	// a second run replaces the stored results instead of adding to them
	require.NoError(t, runExtract(ctx, cfg, logger.NewNop()))
	flights, err = store.Flights(ctx, "4ca1fa")
	require.NoError(t, err)
	assert.Len(t, flights, 1)
}

func TestRunImportRequiresPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Input.CSVPath = ""
	assert.Error(t, runImport(context.Background(), cfg, logger.NewNop()))
}
