package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/yegors/flightphase/internal/adsb"
	"github.com/yegors/flightphase/pkg/logger"
	_ "modernc.org/sqlite"
)

const defaultPositionsTable = "positions"

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a SQLite-backed source of position reports and sink of extracted
// flights and segments
type Store struct {
	db             *sql.DB
	logger         *logger.Logger
	positionsTable string
}

// Option configures a Store
type Option func(*Store) error

// WithPositionsTable reads and writes reports in the named table
func WithPositionsTable(name string) Option {
	return func(s *Store) error {
		if !identifier.MatchString(name) {
			return fmt.Errorf("invalid positions table name: %q", name)
		}
		s.positionsTable = name
		return nil
	}
}

// NewStore opens (creating if needed) the database at dbPath
func NewStore(dbPath string, log *logger.Logger, opts ...Option) (*Store, error) {
	storageLogger := log.Named("sqlite")

	s := &Store{logger: storageLogger, positionsTable: defaultPositionsTable}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath),
		logger.String("positions_table", s.positionsTable))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=10000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s.db = db
	if err := s.initDatabase(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetDB returns the database connection
func (s *Store) GetDB() *sql.DB {
	return s.db
}

func (s *Store) initDatabase() error {
	s.logger.Info("Initializing database schema")

	statements := []struct {
		what  string
		query string
	}{
		{"positions table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				icao TEXT NOT NULL,
				ts REAL NOT NULL,
				lat REAL NOT NULL,
				lon REAL NOT NULL,
				alt REAL NOT NULL,
				spd REAL,           -- NULL when not reported
				hdg REAL,           -- NULL when not reported
				roc REAL NOT NULL,
				PRIMARY KEY (icao, ts)
			)
		`, s.positionsTable)},
		{"flights table", `
			CREATE TABLE IF NOT EXISTS flights (
				id TEXT PRIMARY KEY,
				icao TEXT NOT NULL,
				start_ts REAL NOT NULL,
				end_ts REAL NOT NULL,
				samples INTEGER NOT NULL,
				data TEXT NOT NULL,     -- parallel arrays as JSON
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)
		`},
		{"segments table", `
			CREATE TABLE IF NOT EXISTS segments (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				flight_id TEXT NOT NULL,
				icao TEXT NOT NULL,
				phase TEXT NOT NULL,
				start_ts REAL NOT NULL,
				end_ts REAL NOT NULL,
				samples INTEGER NOT NULL,
				data TEXT NOT NULL,
				FOREIGN KEY (flight_id) REFERENCES flights(id) ON DELETE CASCADE
			)
		`},
		{"index on flights.icao", `CREATE INDEX IF NOT EXISTS idx_flights_icao ON flights(icao)`},
		{"index on segments.icao", `CREATE INDEX IF NOT EXISTS idx_segments_icao ON segments(icao)`},
		{"index on segments.flight_id", `CREATE INDEX IF NOT EXISTS idx_segments_flight_id ON segments(flight_id)`},
	}

	for _, st := range statements {
		if _, err := s.db.Exec(st.query); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.what, err)
		}
	}
	return nil
}

// InsertPositions stores reports in a single transaction. A report whose
// (icao, ts) is already stored is ignored. Returns the number inserted.
func (s *Store) InsertPositions(ctx context.Context, reports []adsb.PositionReport) (int, error) {
	if len(reports) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (icao, ts, lat, lon, alt, spd, hdg, roc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.positionsTable))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare position insert statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range reports {
		res, err := stmt.ExecContext(ctx,
			r.AircraftID, r.Timestamp, r.Lat, r.Lon, r.Altitude,
			nullableFloat(r.Speed), nullableFloat(r.Heading), r.VerticalRate)
		if err != nil {
			return 0, fmt.Errorf("failed to insert position for %s: %w", r.AircraftID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit positions batch: %w", err)
	}

	s.logger.Debug("Inserted positions batch",
		logger.Int("count", len(reports)),
		logger.Int("inserted", inserted))
	return inserted, nil
}

// EligibleAircraft lists, in icao order, the aircraft with at least
// minSamples stored reports
func (s *Store) EligibleAircraft(ctx context.Context, minSamples int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT icao FROM %s
		GROUP BY icao
		HAVING COUNT(*) >= ?
		ORDER BY icao
	`, s.positionsTable), minSamples)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible aircraft: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan aircraft row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aircraft rows: %w", err)
	}
	return ids, nil
}

// LoadPositions returns the reports of the given aircraft ordered by icao and
// time. NULL speed and heading are returned as NaN.
func (s *Store) LoadPositions(ctx context.Context, icaos ...string) ([]adsb.PositionReport, error) {
	if len(icaos) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(icaos))
	args := make([]interface{}, len(icaos))
	for i, id := range icaos {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT icao, ts, lat, lon, alt, spd, hdg, roc
		FROM %s
		WHERE icao IN (%s)
		ORDER BY icao, ts
	`, s.positionsTable, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var reports []adsb.PositionReport
	for rows.Next() {
		var r adsb.PositionReport
		var spd, hdg sql.NullFloat64
		if err := rows.Scan(&r.AircraftID, &r.Timestamp, &r.Lat, &r.Lon, &r.Altitude, &spd, &hdg, &r.VerticalRate); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		r.Speed = floatOrNaN(spd)
		r.Heading = floatOrNaN(hdg)
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return reports, nil
}

// SaveFlight replaces a flight and its segments in one transaction, so a
// flight is stored together with all of its segments or not at all
func (s *Store) SaveFlight(ctx context.Context, f adsb.Flight, segs []adsb.PhaseSegment) error {
	if f.Len() == 0 {
		return fmt.Errorf("flight %s has no reports", f.ID)
	}
	data, err := json.Marshal(f.Record())
	if err != nil {
		return fmt.Errorf("failed to marshal flight %s: %w", f.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE flight_id = ?`, f.ID); err != nil {
		return fmt.Errorf("failed to delete previous segments of %s: %w", f.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM flights WHERE id = ?`, f.ID); err != nil {
		return fmt.Errorf("failed to delete previous flight %s: %w", f.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO flights (id, icao, start_ts, end_ts, samples, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`, f.ID, f.AircraftID, f.Start(), f.End(), f.Len(), string(data)); err != nil {
		return fmt.Errorf("failed to insert flight %s: %w", f.ID, err)
	}

	if len(segs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO segments (flight_id, icao, phase, start_ts, end_ts, samples, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare segment insert statement: %w", err)
		}
		defer stmt.Close()

		for _, seg := range segs {
			if seg.Len() == 0 {
				continue
			}
			data, err := json.Marshal(seg.Record())
			if err != nil {
				return fmt.Errorf("failed to marshal %s segment of %s: %w", seg.Phase, f.ID, err)
			}
			if _, err := stmt.ExecContext(ctx,
				f.ID, f.AircraftID, seg.Phase.String(), seg.Start(), seg.End(), seg.Len(), string(data)); err != nil {
				return fmt.Errorf("failed to insert %s segment of %s: %w", seg.Phase, f.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flight %s: %w", f.ID, err)
	}

	s.logger.Debug("Saved flight",
		logger.String("flight", f.ID),
		logger.Int("samples", f.Len()),
		logger.Int("segments", len(segs)))
	return nil
}

// ClearResults removes every stored flight and segment
func (s *Store) ClearResults(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM segments`); err != nil {
		return fmt.Errorf("failed to clear segments: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM flights`); err != nil {
		return fmt.Errorf("failed to clear flights: %w", err)
	}
	return nil
}

// Flights returns the stored flights of an aircraft in start order
func (s *Store) Flights(ctx context.Context, icao string) ([]adsb.Record, error) {
	return s.records(ctx, `SELECT data FROM flights WHERE icao = ? ORDER BY start_ts`, icao)
}

// Segments returns the stored segments of an aircraft in start order
func (s *Store) Segments(ctx context.Context, icao string) ([]adsb.Record, error) {
	return s.records(ctx, `SELECT data FROM segments WHERE icao = ? ORDER BY start_ts, id`, icao)
}

func (s *Store) records(ctx context.Context, query string, args ...interface{}) ([]adsb.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	records := []adsb.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		var rec adsb.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}
	return records, nil
}

// AircraftSummary counts what is stored for one aircraft
type AircraftSummary struct {
	ICAO     string  `json:"icao"`
	Flights  int     `json:"flights"`
	Segments int     `json:"segments"`
	FirstTS  float64 `json:"first_ts"`
	LastTS   float64 `json:"last_ts"`
}

// Aircraft summarises every aircraft with at least one stored flight
func (s *Store) Aircraft(ctx context.Context) ([]AircraftSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.icao,
			COUNT(*),
			(SELECT COUNT(*) FROM segments sg WHERE sg.icao = f.icao),
			MIN(f.start_ts),
			MAX(f.end_ts)
		FROM flights f
		GROUP BY f.icao
		ORDER BY f.icao
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query aircraft summary: %w", err)
	}
	defer rows.Close()

	out := []AircraftSummary{}
	for rows.Next() {
		var a AircraftSummary
		if err := rows.Scan(&a.ICAO, &a.Flights, &a.Segments, &a.FirstTS, &a.LastTS); err != nil {
			return nil, fmt.Errorf("failed to scan aircraft summary row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aircraft summary rows: %w", err)
	}
	return out, nil
}

func nullableFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
