// Package segments splits a phase labelled flight into time contiguous runs
// of each phase.
package segments

import (
	"fmt"
	"time"

	"github.com/yegors/flightphase/internal/adsb"
	"github.com/yegors/flightphase/internal/cluster"
	"github.com/yegors/flightphase/internal/filter"
)

// Buckets are the phases segments are extracted for, in output order.
// UNKNOWN samples are never segmented.
var Buckets = []adsb.Phase{
	adsb.PhaseGround,
	adsb.PhaseClimb,
	adsb.PhaseDescend,
	adsb.PhaseCruise,
	adsb.PhaseLevel,
}

// Config controls segment extraction
type Config struct {
	GapTolerance time.Duration
	MinSamples   int
}

// DefaultConfig returns a 180 second gap tolerance and a 30 report minimum
func DefaultConfig() Config {
	return Config{
		GapTolerance: 180 * time.Second,
		MinSamples:   30,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.GapTolerance <= 0 {
		return fmt.Errorf("segment gap tolerance must be positive, got %s", c.GapTolerance)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("segment min samples must be >= 1, got %d", c.MinSamples)
	}
	return nil
}

// Extract clusters the reports of each phase bucket on time and returns one
// segment per dense run, grouped by bucket and then by cluster. The second
// result counts the reports left out: UNKNOWN labels, buckets below
// MinSamples, noise and undersized clusters.
func Extract(f adsb.Flight, labels []adsb.Phase, cfg Config) ([]adsb.PhaseSegment, int, error) {
	if err := cfg.Validate(); err != nil {
		return nil, 0, err
	}
	if len(labels) != f.Len() {
		return nil, 0, fmt.Errorf("%w: flight %s has %d reports, %d labels",
			filter.ErrShapeMismatch, f.ID, f.Len(), len(labels))
	}

	members := make(map[adsb.Phase][]int, len(Buckets))
	for i, l := range labels {
		members[l] = append(members[l], i)
	}

	discarded := len(members[adsb.PhaseUnknown])
	var out []adsb.PhaseSegment
	for _, phase := range Buckets {
		idx := members[phase]
		if len(idx) < cfg.MinSamples {
			discarded += len(idx)
			continue
		}

		points := make([][]float64, len(idx))
		for k, i := range idx {
			points[k] = []float64{f.Reports[i].Timestamp}
		}
		clusterLabels, err := cluster.DBSCAN(points, cfg.GapTolerance.Seconds(), cfg.MinSamples)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to cluster %s reports of %s: %w", phase, f.ID, err)
		}

		groups, noise := cluster.Groups(clusterLabels)
		discarded += noise
		for _, g := range groups {
			if len(g) < cfg.MinSamples {
				discarded += len(g)
				continue
			}
			seg := adsb.PhaseSegment{
				AircraftID: f.AircraftID,
				FlightID:   f.ID,
				Phase:      phase,
				Reports:    make([]adsb.PositionReport, len(g)),
			}
			for k, p := range g {
				seg.Reports[k] = f.Reports[idx[p]]
			}
			out = append(out, seg)
		}
	}
	return out, discarded, nil
}
