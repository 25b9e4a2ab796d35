package adsb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Phase is a flight regime label. The numeric values are the crisp state ids
// produced by the fuzzy classifier.
type Phase int

const (
	PhaseGround  Phase = 1
	PhaseClimb   Phase = 2
	PhaseDescend Phase = 3
	PhaseCruise  Phase = 4
	PhaseLevel   Phase = 5
	PhaseUnknown Phase = 6
)

// AllPhases lists every label in state id order
var AllPhases = []Phase{PhaseGround, PhaseClimb, PhaseDescend, PhaseCruise, PhaseLevel, PhaseUnknown}

func (p Phase) String() string {
	switch p {
	case PhaseGround:
		return "GROUND"
	case PhaseClimb:
		return "CLIMB"
	case PhaseDescend:
		return "DESCEND"
	case PhaseCruise:
		return "CRUISE"
	case PhaseLevel:
		return "LEVEL"
	default:
		return "UNKNOWN"
	}
}

// Code returns the short label used by the position archive (GND, CL, ...)
func (p Phase) Code() string {
	switch p {
	case PhaseGround:
		return "GND"
	case PhaseClimb:
		return "CL"
	case PhaseDescend:
		return "DE"
	case PhaseCruise:
		return "CR"
	case PhaseLevel:
		return "LVL"
	default:
		return "NA"
	}
}

// ParsePhase accepts either the long or the short label, case-sensitive
func ParsePhase(s string) (Phase, bool) {
	for _, p := range AllPhases {
		if s == p.String() || s == p.Code() {
			return p, true
		}
	}
	return PhaseUnknown, false
}

// MarshalText encodes the phase as its long label
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a long or short label
func (p *Phase) UnmarshalText(b []byte) error {
	v, ok := ParsePhase(string(b))
	if !ok {
		return fmt.Errorf("unknown phase label: %q", string(b))
	}
	*p = v
	return nil
}

// PositionReport is a single raw position sample for one aircraft.
// Speed and Heading are NaN when the source did not report them.
type PositionReport struct {
	AircraftID   string  `json:"icao" msgpack:"icao"`
	Timestamp    float64 `json:"ts" msgpack:"ts"` // seconds, source clock
	Lat          float64 `json:"lat" msgpack:"lat"`
	Lon          float64 `json:"lon" msgpack:"lon"`
	Altitude     float64 `json:"alt" msgpack:"alt"` // feet
	Speed        float64 `json:"spd" msgpack:"spd"` // knots
	Heading      float64 `json:"hdg" msgpack:"hdg"` // degrees
	VerticalRate float64 `json:"roc" msgpack:"roc"` // feet per minute
}

// HasSpeed reports whether the speed field is known
func (r PositionReport) HasSpeed() bool { return !math.IsNaN(r.Speed) }

// HasHeading reports whether the heading field is known
func (r PositionReport) HasHeading() bool { return !math.IsNaN(r.Heading) }

// Flight is a time ordered run of reports for one aircraft with unique timestamps
type Flight struct {
	ID         string           `json:"id"`
	AircraftID string           `json:"icao"`
	Reports    []PositionReport `json:"reports"`
}

// NewFlight builds a flight from reports that all belong to aircraftID.
// The reports are sorted by timestamp; duplicate timestamps keep the first report.
func NewFlight(aircraftID string, reports []PositionReport) (Flight, error) {
	if len(reports) == 0 {
		return Flight{}, fmt.Errorf("flight for %s has no reports", aircraftID)
	}
	for _, r := range reports {
		if r.AircraftID != aircraftID {
			return Flight{}, fmt.Errorf("report for %s cannot join flight of %s", r.AircraftID, aircraftID)
		}
	}

	sorted := Dedup(reports)
	SortByTime(sorted)

	return Flight{
		ID:         FlightID(aircraftID, sorted[0].Timestamp),
		AircraftID: aircraftID,
		Reports:    sorted,
	}, nil
}

// FlightID derives a stable identifier from the aircraft and first timestamp
func FlightID(aircraftID string, start float64) string {
	return aircraftID + "-" + strconv.FormatInt(int64(math.Floor(start)), 10)
}

func (f Flight) Len() int       { return len(f.Reports) }
func (f Flight) Start() float64 { return f.Reports[0].Timestamp }
func (f Flight) End() float64   { return f.Reports[len(f.Reports)-1].Timestamp }

// Duration returns the span between the first and last report in seconds
func (f Flight) Duration() float64 { return f.End() - f.Start() }

// Times returns the timestamps as a new slice
func (f Flight) Times() []float64 {
	return column(f.Reports, func(r PositionReport) float64 { return r.Timestamp })
}

// Altitudes returns the altitudes as a new slice
func (f Flight) Altitudes() []float64 {
	return column(f.Reports, func(r PositionReport) float64 { return r.Altitude })
}

// Speeds returns the speeds as a new slice, NaN where unknown
func (f Flight) Speeds() []float64 {
	return column(f.Reports, func(r PositionReport) float64 { return r.Speed })
}

// VerticalRates returns the vertical rates as a new slice
func (f Flight) VerticalRates() []float64 {
	return column(f.Reports, func(r PositionReport) float64 { return r.VerticalRate })
}

// Record converts the flight to the parallel array output schema
func (f Flight) Record() Record {
	rec := newRecord(f.AircraftID, f.Reports)
	rec.FlightID = f.ID
	return rec
}

// PhaseSegment is a time contiguous, density accepted run of one phase
type PhaseSegment struct {
	AircraftID string           `json:"icao"`
	FlightID   string           `json:"flight_id"`
	Phase      Phase            `json:"phase"`
	Reports    []PositionReport `json:"reports"`
}

func (s PhaseSegment) Len() int       { return len(s.Reports) }
func (s PhaseSegment) Start() float64 { return s.Reports[0].Timestamp }
func (s PhaseSegment) End() float64   { return s.Reports[len(s.Reports)-1].Timestamp }

// Record converts the segment to the parallel array output schema
func (s PhaseSegment) Record() Record {
	rec := newRecord(s.AircraftID, s.Reports)
	rec.FlightID = s.FlightID
	rec.Phase = s.Phase.String()
	return rec
}

// SortSegmentsByStart orders segments chronologically by first timestamp
func SortSegmentsByStart(segs []PhaseSegment) {
	sort.SliceStable(segs, func(i, j int) bool {
		return segs[i].Start() < segs[j].Start()
	})
}

// Record is the stored representation of a flight or a segment:
// parallel arrays with one element per report, time ascending.
type Record struct {
	AircraftID string         `json:"icao" msgpack:"icao"`
	FlightID   string         `json:"flight_id,omitempty" msgpack:"flight_id,omitempty"`
	Phase      string         `json:"phase,omitempty" msgpack:"phase,omitempty"`
	TS         []float64      `json:"ts" msgpack:"ts"`
	Lat        []float64      `json:"lat" msgpack:"lat"`
	Lon        []float64      `json:"lon" msgpack:"lon"`
	Alt        []float64      `json:"alt" msgpack:"alt"`
	Spd        NullableFloats `json:"spd" msgpack:"spd"`
	Hdg        NullableFloats `json:"hdg" msgpack:"hdg"`
	Roc        []float64      `json:"roc" msgpack:"roc"`
}

func newRecord(aircraftID string, reports []PositionReport) Record {
	n := len(reports)
	rec := Record{
		AircraftID: aircraftID,
		TS:         make([]float64, n),
		Lat:        make([]float64, n),
		Lon:        make([]float64, n),
		Alt:        make([]float64, n),
		Spd:        make(NullableFloats, n),
		Hdg:        make(NullableFloats, n),
		Roc:        make([]float64, n),
	}
	for i, r := range reports {
		rec.TS[i] = r.Timestamp
		rec.Lat[i] = r.Lat
		rec.Lon[i] = r.Lon
		rec.Alt[i] = r.Altitude
		rec.Spd[i] = r.Speed
		rec.Hdg[i] = r.Heading
		rec.Roc[i] = r.VerticalRate
	}
	return rec
}

// Reports rebuilds the position reports held by the record
func (r Record) Reports() ([]PositionReport, error) {
	n := len(r.TS)
	for name, l := range map[string]int{
		"lat": len(r.Lat), "lon": len(r.Lon), "alt": len(r.Alt),
		"spd": len(r.Spd), "hdg": len(r.Hdg), "roc": len(r.Roc),
	} {
		if l != n {
			return nil, fmt.Errorf("record for %s: %s has %d values, ts has %d", r.AircraftID, name, l, n)
		}
	}

	reports := make([]PositionReport, n)
	for i := range reports {
		reports[i] = PositionReport{
			AircraftID:   r.AircraftID,
			Timestamp:    r.TS[i],
			Lat:          r.Lat[i],
			Lon:          r.Lon[i],
			Altitude:     r.Alt[i],
			Speed:        r.Spd[i],
			Heading:      r.Hdg[i],
			VerticalRate: r.Roc[i],
		}
	}
	return reports, nil
}

// NullableFloats encodes NaN as JSON null and decodes null back to NaN
type NullableFloats []float64

// MarshalJSON implements json.Marshaler
func (n NullableFloats) MarshalJSON() ([]byte, error) {
	if n == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range n {
		if i > 0 {
			buf.WriteByte(',')
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (n *NullableFloats) UnmarshalJSON(b []byte) error {
	var raw []*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*n = nil
		return nil
	}
	out := make(NullableFloats, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *v
		}
	}
	*n = out
	return nil
}

// SortByTime sorts reports by timestamp in place, keeping the input order of ties
func SortByTime(reports []PositionReport) {
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Timestamp < reports[j].Timestamp
	})
}

type reportKey struct {
	id string
	ts float64
}

// Dedup returns a copy of reports without repeated (aircraft, timestamp) pairs.
// The first occurrence wins and the input order is preserved.
func Dedup(reports []PositionReport) []PositionReport {
	seen := make(map[reportKey]struct{}, len(reports))
	out := make([]PositionReport, 0, len(reports))
	for _, r := range reports {
		k := reportKey{r.AircraftID, r.Timestamp}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// GroupByAircraft splits reports per aircraft. The returned ids are in order of
// first appearance so repeated runs over the same input are deterministic.
func GroupByAircraft(reports []PositionReport) ([]string, map[string][]PositionReport) {
	groups := make(map[string][]PositionReport)
	var ids []string
	for _, r := range reports {
		if _, ok := groups[r.AircraftID]; !ok {
			ids = append(ids, r.AircraftID)
		}
		groups[r.AircraftID] = append(groups[r.AircraftID], r)
	}
	return ids, groups
}

func column(reports []PositionReport, get func(PositionReport) float64) []float64 {
	out := make([]float64, len(reports))
	for i, r := range reports {
		out[i] = get(r)
	}
	return out
}
