// Package flights splits the report stream of an aircraft, which may span
// many days, into time contiguous flights by density clustering on time.
package flights

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/yegors/flightphase/internal/adsb"
	"github.com/yegors/flightphase/internal/cluster"
)

// ErrInsufficientData marks an aircraft with fewer reports than a flight needs
var ErrInsufficientData = errors.New("insufficient data")

// Feature ranges used for min-max scaling before clustering
const (
	timeRange     = 1000.0
	altitudeRange = 100.0
)

// Config controls flight extraction
type Config struct {
	// GapTolerance is the largest time gap tolerated inside one flight
	GapTolerance time.Duration
	// MinSamples is the minimum number of reports of a flight
	MinSamples int
	// AltitudeWeight multiplies the scaled altitude feature. Zero clusters on
	// time alone.
	AltitudeWeight float64
}

// DefaultConfig returns a 30 minute gap tolerance and 100 report minimum
func DefaultConfig() Config {
	return Config{
		GapTolerance: 30 * time.Minute,
		MinSamples:   100,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.GapTolerance <= 0 {
		return fmt.Errorf("flight gap tolerance must be positive, got %s", c.GapTolerance)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("flight min samples must be >= 1, got %d", c.MinSamples)
	}
	if c.AltitudeWeight < 0 {
		return fmt.Errorf("altitude weight must be >= 0, got %g", c.AltitudeWeight)
	}
	return nil
}

// scaling holds the feature scalers fitted over one batch of reports
type scaling struct {
	time cluster.MinMaxScaler
	alt  cluster.MinMaxScaler
}

func fitScaling(reports []adsb.PositionReport) scaling {
	ts := make([]float64, len(reports))
	alts := make([]float64, len(reports))
	for i, r := range reports {
		ts[i] = r.Timestamp
		alts[i] = r.Altitude
	}
	return scaling{
		time: cluster.FitMinMax(ts, 0, timeRange),
		alt:  cluster.FitMinMax(alts, 0, altitudeRange),
	}
}

// Extract splits the reports of one aircraft into flights ordered by start
// time. Repeated (aircraft, timestamp) reports are dropped, keeping the first.
// An aircraft with fewer than MinSamples reports yields ErrInsufficientData.
func Extract(reports []adsb.PositionReport, cfg Config) ([]adsb.Flight, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("%w: no reports", ErrInsufficientData)
	}

	id := reports[0].AircraftID
	for _, r := range reports {
		if r.AircraftID != id {
			return nil, fmt.Errorf("reports of %s and %s cannot be extracted together", id, r.AircraftID)
		}
	}

	unique := adsb.Dedup(reports)
	return extract(id, unique, fitScaling(unique), cfg)
}

// ExtractBatch extracts flights for every aircraft in reports. Features are
// scaled over the whole batch, so the gap tolerance maps to one radius for
// every aircraft. Aircraft without enough reports are left out of the result.
func ExtractBatch(reports []adsb.PositionReport, cfg Config) (map[string][]adsb.Flight, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	unique := adsb.Dedup(reports)
	sc := fitScaling(unique)
	ids, groups := adsb.GroupByAircraft(unique)

	out := make(map[string][]adsb.Flight, len(ids))
	for _, id := range ids {
		flights, err := extract(id, groups[id], sc, cfg)
		if errors.Is(err, ErrInsufficientData) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to extract flights of %s: %w", id, err)
		}
		out[id] = flights
	}
	return out, nil
}

func extract(id string, reports []adsb.PositionReport, sc scaling, cfg Config) ([]adsb.Flight, error) {
	if len(reports) < cfg.MinSamples {
		return nil, fmt.Errorf("%w: %s has %d reports, need %d", ErrInsufficientData, id, len(reports), cfg.MinSamples)
	}

	points := make([][]float64, len(reports))
	for i, r := range reports {
		points[i] = []float64{
			sc.time.Transform(r.Timestamp),
			cfg.AltitudeWeight * sc.alt.Transform(r.Altitude),
		}
	}

	eps := sc.time.Scale() * cfg.GapTolerance.Seconds()
	labels, err := cluster.DBSCAN(points, eps, cfg.MinSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to cluster reports of %s: %w", id, err)
	}

	groups, _ := cluster.Groups(labels)
	var flights []adsb.Flight
	for _, members := range groups {
		if len(members) < cfg.MinSamples {
			continue
		}
		rs := make([]adsb.PositionReport, len(members))
		for k, i := range members {
			rs[k] = reports[i]
		}
		f, err := adsb.NewFlight(id, rs)
		if err != nil {
			return nil, err
		}
		flights = append(flights, f)
	}

	sort.SliceStable(flights, func(i, j int) bool { return flights[i].Start() < flights[j].Start() })
	return flights, nil
}
