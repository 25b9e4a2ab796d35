package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/flightphase/internal/adsb"
	"github.com/yegors/flightphase/pkg/logger"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "flightphase.db"), logger.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func reports(id string, start float64, n int) []adsb.PositionReport {
	out := make([]adsb.PositionReport, n)
	for i := range out {
		out[i] = adsb.PositionReport{
			AircraftID:   id,
			Timestamp:    start + float64(i),
			Lat:          52,
			Lon:          4.7,
			Altitude:     float64(100 * i),
			Speed:        180,
			Heading:      270,
			VerticalRate: 1200,
		}
	}
	return out
}

func TestPositionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rs := reports("abc123", 1000, 5)
	rs[2].Speed = math.NaN()
	rs[3].Heading = math.NaN()

	n, err := s.InsertPositions(ctx, rs)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// same (icao, ts) again is ignored
	dup := rs[0]
	dup.Altitude = 99999
	n, err = s.InsertPositions(ctx, []adsb.PositionReport{dup})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := s.LoadPositions(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, 0.0, got[0].Altitude)
	assert.True(t, math.IsNaN(got[2].Speed))
	assert.Equal(t, 270.0, got[2].Heading)
	assert.True(t, math.IsNaN(got[3].Heading))
	assert.Equal(t, 180.0, got[3].Speed)

	none, err := s.LoadPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEligibleAircraft(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithPositionsTable("adsb_positions"))

	_, err := s.InsertPositions(ctx, reports("zzz", 0, 12))
	require.NoError(t, err)
	_, err = s.InsertPositions(ctx, reports("aaa", 0, 10))
	require.NoError(t, err)
	_, err = s.InsertPositions(ctx, reports("mmm", 0, 3))
	require.NoError(t, err)

	ids, err := s.EligibleAircraft(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "zzz"}, ids)

	loaded, err := s.LoadPositions(ctx, ids...)
	require.NoError(t, err)
	assert.Len(t, loaded, 22)
	assert.Equal(t, "aaa", loaded[0].AircraftID)
}

func TestInvalidPositionsTable(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "x.db"), logger.NewNop(), WithPositionsTable("positions; DROP TABLE flights"))
	assert.Error(t, err)
}

func TestSaveFlightReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	f, err := adsb.NewFlight("abc123", reports("abc123", 5000, 60))
	require.NoError(t, err)
	f.Reports[10].Speed = math.NaN()

	climb := adsb.PhaseSegment{AircraftID: "abc123", FlightID: f.ID, Phase: adsb.PhaseClimb, Reports: f.Reports[30:]}
	ground := adsb.PhaseSegment{AircraftID: "abc123", FlightID: f.ID, Phase: adsb.PhaseGround, Reports: f.Reports[:30]}
	require.NoError(t, s.SaveFlight(ctx, f, []adsb.PhaseSegment{climb, ground}))

	// a second run stores the same flight again
	require.NoError(t, s.SaveFlight(ctx, f, []adsb.PhaseSegment{climb, ground}))

	flights, err := s.Flights(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, flights, 1)
	assert.Equal(t, f.ID, flights[0].FlightID)
	assert.Len(t, flights[0].TS, 60)
	assert.True(t, math.IsNaN(flights[0].Spd[10]))

	segs, err := s.Segments(ctx, "abc123")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "GROUND", segs[0].Phase)
	assert.Equal(t, "CLIMB", segs[1].Phase)

	back, err := segs[1].Reports()
	require.NoError(t, err)
	assert.Equal(t, f.Reports[30:], back)

	summary, err := s.Aircraft(ctx)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, AircraftSummary{ICAO: "abc123", Flights: 1, Segments: 2, FirstTS: 5000, LastTS: 5059}, summary[0])

	require.NoError(t, s.ClearResults(ctx))
	flights, err = s.Flights(ctx, "abc123")
	require.NoError(t, err)
	assert.Empty(t, flights)
}
