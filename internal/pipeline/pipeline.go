// Package pipeline drives flight extraction, phase classification and segment
// extraction for many aircraft, one worker task per aircraft.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/yegors/flightphase/internal/adsb"
	"github.com/yegors/flightphase/internal/filter"
	"github.com/yegors/flightphase/internal/flights"
	"github.com/yegors/flightphase/internal/fuzzy"
	"github.com/yegors/flightphase/internal/segments"
	"github.com/yegors/flightphase/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Status is the outcome of processing one aircraft
type Status string

const (
	StatusOK               Status = "ok"
	StatusInsufficientData Status = "insufficient_data"
	StatusShapeMismatch    Status = "shape_mismatch"
	StatusFailed           Status = "failed"
)

// Config bundles the stage configurations
type Config struct {
	Flights    flights.Config
	Segments   segments.Config
	Classifier fuzzy.Options
	// Workers bounds the number of aircraft processed at once, 0 uses GOMAXPROCS
	Workers int
	// ChunkSize is the number of aircraft whose reports are scaled together
	ChunkSize int
}

// DefaultConfig returns the default configuration of every stage
func DefaultConfig() Config {
	return Config{
		Flights:    flights.DefaultConfig(),
		Segments:   segments.DefaultConfig(),
		Classifier: fuzzy.DefaultOptions(),
		ChunkSize:  50,
	}
}

// Validate checks the extraction settings and the worker pool bounds
func (c Config) Validate() error {
	if err := c.Flights.Validate(); err != nil {
		return err
	}
	if err := c.Segments.Validate(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", c.Workers)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be >= 1, got %d", c.ChunkSize)
	}
	return nil
}

// FlightResult is one fully processed flight
type FlightResult struct {
	Flight         adsb.Flight
	Classification *fuzzy.Classification
	Segments       []adsb.PhaseSegment
	Discarded      int // reports not in any segment
}

// Result is the outcome for one aircraft. Flights is empty unless Status is
// StatusOK; a failing aircraft contributes no partial output.
type Result struct {
	AircraftID string
	Status     Status
	Err        error
	Flights    []FlightResult
	// SkippedFlights counts flights dropped because they were too sparse to classify
	SkippedFlights int
	Elapsed        time.Duration
}

// Pipeline processes aircraft. It is safe for concurrent use.
type Pipeline struct {
	cfg        Config
	classifier *fuzzy.Classifier
	logger     *logger.Logger
}

// New validates cfg and builds the shared rule base and classifier
func New(cfg Config, log *logger.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	classifier, err := fuzzy.NewClassifier(fuzzy.NewRuleBase(), cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	return &Pipeline{
		cfg:        cfg,
		classifier: classifier,
		logger:     log.Named("pipeline"),
	}, nil
}

// Classifier returns the shared classifier
func (p *Pipeline) Classifier() *fuzzy.Classifier {
	return p.classifier
}

// Run processes every aircraft in reports. Aircraft are taken in order of
// first appearance and chunked; flights are extracted per chunk and each
// aircraft is then classified and segmented in its own task. Results keep
// the aircraft order. A per aircraft failure never stops the run; a
// cancelled context does, and is returned with the results finished so far.
func (p *Pipeline) Run(ctx context.Context, reports []adsb.PositionReport) ([]Result, error) {
	ids, groups := adsb.GroupByAircraft(reports)
	results := make([]Result, len(ids))

	for start := 0; start < len(ids); start += p.cfg.ChunkSize {
		end := min(start+p.cfg.ChunkSize, len(ids))
		if err := p.runChunk(ctx, ids[start:end], groups, results[start:end]); err != nil {
			return results[:start], err
		}
	}
	return results, nil
}

func (p *Pipeline) runChunk(ctx context.Context, ids []string, groups map[string][]adsb.PositionReport, out []Result) error {
	var chunk []adsb.PositionReport
	for _, id := range ids {
		chunk = append(chunk, groups[id]...)
	}

	extracted, err := flights.ExtractBatch(chunk, p.cfg.Flights)
	if err != nil {
		// fall back to per aircraft scaling so one aircraft cannot sink the chunk
		p.logger.Warn("Batch flight extraction failed, extracting per aircraft", logger.Error(err))
		extracted = nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.cfg.Workers)
	for i, id := range ids {
		i, id := i, id
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if extracted == nil {
				out[i] = p.ProcessAircraft(ctx, id, groups[id])
				return nil
			}
			out[i] = p.process(ctx, id, func() ([]adsb.Flight, error) {
				fs, ok := extracted[id]
				if !ok {
					return nil, fmt.Errorf("%w: %s has no flight with %d reports",
						flights.ErrInsufficientData, id, p.cfg.Flights.MinSamples)
				}
				return fs, nil
			})
			return nil
		})
	}
	return eg.Wait()
}

// ProcessAircraft runs every stage over the reports of one aircraft
func (p *Pipeline) ProcessAircraft(ctx context.Context, id string, reports []adsb.PositionReport) Result {
	return p.process(ctx, id, func() ([]adsb.Flight, error) {
		return flights.Extract(reports, p.cfg.Flights)
	})
}

func (p *Pipeline) process(ctx context.Context, id string, extract func() ([]adsb.Flight, error)) (res Result) {
	start := time.Now()
	res = Result{AircraftID: id}

	defer func() {
		if r := recover(); r != nil {
			res = Result{AircraftID: id, Status: StatusFailed, Err: fmt.Errorf("panic while processing %s: %v", id, r)}
		}
		res.Elapsed = time.Since(start)
		p.logResult(res)
	}()

	fs, err := extract()
	if err != nil {
		return p.fail(res, err)
	}

	for _, f := range fs {
		if err := ctx.Err(); err != nil {
			return p.fail(res, err)
		}

		fr, err := p.processFlight(f)
		if errors.Is(err, filter.ErrInsufficientData) {
			p.logger.Debug("Skipping sparse flight",
				logger.String("icao", id),
				logger.String("flight", f.ID),
				logger.Error(err))
			res.SkippedFlights++
			continue
		}
		if err != nil {
			return p.fail(res, fmt.Errorf("flight %s: %w", f.ID, err))
		}
		res.Flights = append(res.Flights, fr)
	}

	if len(res.Flights) == 0 {
		return p.fail(res, fmt.Errorf("%w: no flight of %s could be classified", flights.ErrInsufficientData, id))
	}
	res.Status = StatusOK
	return res
}

func (p *Pipeline) processFlight(f adsb.Flight) (FlightResult, error) {
	cls, err := p.classifier.ClassifyFlight(f)
	if err != nil {
		return FlightResult{}, fmt.Errorf("failed to classify: %w", err)
	}

	segs, discarded, err := segments.Extract(f, cls.Labels, p.cfg.Segments)
	if err != nil {
		return FlightResult{}, fmt.Errorf("failed to extract segments: %w", err)
	}

	return FlightResult{
		Flight:         f,
		Classification: cls,
		Segments:       segs,
		Discarded:      discarded,
	}, nil
}

func (p *Pipeline) fail(res Result, err error) Result {
	res.Status = statusOf(err)
	res.Err = err
	res.Flights = nil
	return res
}

func statusOf(err error) Status {
	switch {
	case errors.Is(err, flights.ErrInsufficientData), errors.Is(err, filter.ErrInsufficientData):
		return StatusInsufficientData
	case errors.Is(err, filter.ErrShapeMismatch):
		return StatusShapeMismatch
	default:
		return StatusFailed
	}
}

func (p *Pipeline) logResult(res Result) {
	switch res.Status {
	case StatusOK:
		nseg := 0
		for _, f := range res.Flights {
			nseg += len(f.Segments)
		}
		p.logger.Info("Processed aircraft",
			logger.String("icao", res.AircraftID),
			logger.Int("flights", len(res.Flights)),
			logger.Int("segments", nseg),
			logger.Int("skipped_flights", res.SkippedFlights),
			logger.Duration("elapsed", res.Elapsed))
	case StatusInsufficientData:
		p.logger.Debug("Not enough data for aircraft",
			logger.String("icao", res.AircraftID),
			logger.Error(res.Err))
	default:
		p.logger.Warn("Failed to process aircraft",
			logger.String("icao", res.AircraftID),
			logger.String("status", string(res.Status)),
			logger.Error(res.Err))
	}
}

// Summary counts outcomes over a run
type Summary struct {
	Aircraft         int
	OK               int
	InsufficientData int
	ShapeMismatch    int
	Failed           int
	Flights          int
	Segments         int
}

// Summarize tallies results
func Summarize(results []Result) Summary {
	s := Summary{Aircraft: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusOK:
			s.OK++
		case StatusInsufficientData:
			s.InsufficientData++
		case StatusShapeMismatch:
			s.ShapeMismatch++
		default:
			s.Failed++
		}
		s.Flights += len(r.Flights)
		for _, f := range r.Flights {
			s.Segments += len(f.Segments)
		}
	}
	return s
}

// Add accumulates the counts of o, for runs that span several reads
func (s *Summary) Add(o Summary) {
	s.Aircraft += o.Aircraft
	s.OK += o.OK
	s.InsufficientData += o.InsufficientData
	s.ShapeMismatch += o.ShapeMismatch
	s.Failed += o.Failed
	s.Flights += o.Flights
	s.Segments += o.Segments
}
