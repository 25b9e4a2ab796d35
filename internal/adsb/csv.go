package adsb

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/yegors/flightphase/internal/physics"
)

// Units selects the unit system of an input source
type Units string

const (
	UnitsImperial Units = "imperial" // ft, kt, ft/min
	UnitsSI       Units = "si"       // m, m/s, m/s
)

// HeadingReference tells whether source headings are true or magnetic
type HeadingReference string

const (
	HeadingTrue     HeadingReference = "true"
	HeadingMagnetic HeadingReference = "magnetic"
)

// CSVOptions controls how decoded position files are interpreted
type CSVOptions struct {
	Units            Units
	HeadingReference HeadingReference
}

var requiredColumns = []string{"icao", "ts", "lat", "lon", "alt", "roc"}

// ReadCSV reads decoded position reports with a header row containing at least
// icao, ts, lat, lon, alt and roc. The spd and hdg columns are optional and
// empty cells are kept as unknown (NaN). Reports are converted to ft, kt and
// ft/min, headings to true north, and duplicates of (icao, ts) are dropped.
func ReadCSV(r io.Reader, opts CSVOptions) ([]PositionReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("CSV header is missing column %q", name)
		}
	}

	var reports []PositionReport
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		rep, err := parseRow(record, cols, opts)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		reports = append(reports, rep)
	}

	return Dedup(reports), nil
}

func parseRow(record []string, cols map[string]int, opts CSVOptions) (PositionReport, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	rep := PositionReport{AircraftID: strings.ToLower(get("icao"))}
	if rep.AircraftID == "" {
		return rep, fmt.Errorf("empty icao")
	}

	var err error
	if rep.Timestamp, err = requiredFloat(get("ts"), "ts"); err != nil {
		return rep, err
	}
	if rep.Lat, err = requiredFloat(get("lat"), "lat"); err != nil {
		return rep, err
	}
	if rep.Lon, err = requiredFloat(get("lon"), "lon"); err != nil {
		return rep, err
	}
	if rep.Altitude, err = requiredFloat(get("alt"), "alt"); err != nil {
		return rep, err
	}
	if rep.VerticalRate, err = requiredFloat(get("roc"), "roc"); err != nil {
		return rep, err
	}
	if rep.Speed, err = optionalFloat(get("spd"), "spd"); err != nil {
		return rep, err
	}
	if rep.Heading, err = optionalFloat(get("hdg"), "hdg"); err != nil {
		return rep, err
	}

	if opts.Units == UnitsSI {
		rep.Altitude = physics.MetersToFeet(rep.Altitude)
		rep.Speed = physics.MsToKts(rep.Speed)
		rep.VerticalRate = physics.MsToFpm(rep.VerticalRate)
	}
	if opts.HeadingReference == HeadingMagnetic {
		date := time.Unix(int64(rep.Timestamp), 0).UTC()
		rep.Heading = physics.MagneticToTrue(rep.Heading, rep.Lat, rep.Lon, rep.Altitude, date)
	}

	return rep, nil
}

func requiredFloat(s, name string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("missing %s", name)
	}
	return v, nil
}

func optionalFloat(s, name string) (float64, error) {
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return v, nil
}
