package flights

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/flightphase/internal/adsb"
)

func track(id string, start float64, n int, step, alt float64) []adsb.PositionReport {
	out := make([]adsb.PositionReport, n)
	for i := range out {
		out[i] = adsb.PositionReport{
			AircraftID:   id,
			Timestamp:    start + float64(i)*step,
			Lat:          51.5,
			Lon:          -0.1,
			Altitude:     alt,
			Speed:        450,
			Heading:      math.NaN(),
			VerticalRate: 0,
		}
	}
	return out
}

func shuffled(reports []adsb.PositionReport) []adsb.PositionReport {
	out := append([]adsb.PositionReport(nil), reports...)
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func TestExtractSplitsOnLongGap(t *testing.T) {
	first := track("4ca123", 1_600_000_000, 150, 10, 35000)
	second := track("4ca123", 1_600_000_000+1490+3*3600, 150, 10, 33000)
	reports := shuffled(append(first, second...))

	cfg := DefaultConfig()
	flights, err := Extract(reports, cfg)
	require.NoError(t, err)
	require.Len(t, flights, 2)

	seen := make(map[float64]bool)
	for _, f := range flights {
		assert.Equal(t, 150, f.Len())
		assert.Equal(t, "4ca123", f.AircraftID)
		for i := 1; i < f.Len(); i++ {
			assert.Less(t, f.Reports[i-1].Timestamp, f.Reports[i].Timestamp)
		}
		for _, r := range f.Reports {
			assert.False(t, seen[r.Timestamp], "report at %v in two flights", r.Timestamp)
			seen[r.Timestamp] = true
		}
	}

	assert.Equal(t, first[0].Timestamp, flights[0].Start())
	assert.Equal(t, second[0].Timestamp, flights[1].Start())
	assert.Equal(t, adsb.FlightID("4ca123", first[0].Timestamp), flights[0].ID)
}

func TestExtractKeepsShortGapsTogether(t *testing.T) {
	// a 20 minute hole is inside the 30 minute tolerance
	reports := append(track("abc", 0, 120, 5, 10000), track("abc", 595+1200, 120, 5, 10000)...)

	flights, err := Extract(reports, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, flights, 1)
	assert.Equal(t, 240, flights[0].Len())
}

func TestExtractDropsSparseTail(t *testing.T) {
	reports := track("abc", 0, 200, 4, 30000)
	// isolated reports hours apart never form a dense run
	for i := 0; i < 5; i++ {
		reports = append(reports, track("abc", float64(20000+i*10000), 1, 1, 30000)...)
	}

	flights, err := Extract(reports, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, flights, 1)
	assert.Equal(t, 200, flights[0].Len())
}

func TestExtractInsufficientData(t *testing.T) {
	_, err := Extract(track("abc", 0, 99, 1, 1000), DefaultConfig())
	assert.ErrorIs(t, err, ErrInsufficientData)

	// duplicates do not count towards the minimum
	dup := append(track("abc", 0, 60, 1, 1000), track("abc", 0, 60, 1, 1000)...)
	_, err = Extract(dup, DefaultConfig())
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = Extract(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestExtractRejectsMixedAircraft(t *testing.T) {
	reports := append(track("abc", 0, 100, 1, 0), track("def", 0, 100, 1, 0)...)
	_, err := Extract(reports, DefaultConfig())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficientData)
}

func TestExtractBatch(t *testing.T) {
	var reports []adsb.PositionReport
	reports = append(reports, track("aaa", 0, 150, 10, 35000)...)
	reports = append(reports, track("aaa", 20000, 150, 10, 35000)...)
	reports = append(reports, track("bbb", 5000, 300, 5, 12000)...)
	reports = append(reports, track("ccc", 0, 40, 10, 0)...)

	got, err := ExtractBatch(shuffled(reports), DefaultConfig())
	require.NoError(t, err)

	assert.Len(t, got, 2)
	assert.Len(t, got["aaa"], 2)
	assert.Len(t, got["bbb"], 1)
	assert.NotContains(t, got, "ccc")
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.GapTolerance = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinSamples = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.AltitudeWeight = -1
	assert.Error(t, cfg.Validate())

	_, err := ExtractBatch(nil, Config{GapTolerance: time.Second})
	assert.Error(t, err)
}
