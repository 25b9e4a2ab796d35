package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/flightphase/internal/adsb"
	"github.com/yegors/flightphase/internal/fuzzy"
	"github.com/yegors/flightphase/internal/storage/sqlite"
	"github.com/yegors/flightphase/pkg/logger"
)

// maxClassifyBody caps the size of a classify request
const maxClassifyBody = 16 << 20

// ResultStore is the read side of the sqlite store
type ResultStore interface {
	Aircraft(ctx context.Context) ([]sqlite.AircraftSummary, error)
	Flights(ctx context.Context, icao string) ([]adsb.Record, error)
	Segments(ctx context.Context, icao string) ([]adsb.Record, error)
}

// Handler contains the API handlers
type Handler struct {
	store      ResultStore
	classifier *fuzzy.Classifier
	logger     *logger.Logger
	started    time.Time
}

// NewHandler creates a new API handler
func NewHandler(store ResultStore, classifier *fuzzy.Classifier, log *logger.Logger) *Handler {
	return &Handler{
		store:      store,
		classifier: classifier,
		logger:     log.Named("api-handler"),
		started:    time.Now(),
	}
}

// GetHealth returns the health status of the API
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}

	WriteJSON(w, http.StatusOK, response)
}

// GetAllAircraft returns every aircraft that has stored flights
func (h *Handler) GetAllAircraft(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	aircraft, err := h.store.Aircraft(r.Context())
	if err != nil {
		h.logger.Error("Failed to list aircraft", logger.Error(err))
		http.Error(w, "Failed to list aircraft", http.StatusInternalServerError)
		return
	}
	if aircraft == nil {
		aircraft = []sqlite.AircraftSummary{}
	}

	h.logger.Debug("Listed aircraft",
		logger.Int("count", len(aircraft)),
		logger.Duration("duration", time.Since(start)))

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(aircraft),
		"aircraft": aircraft,
	})
}

// GetAircraftFlights returns the stored flights of one aircraft
func (h *Handler) GetAircraftFlights(w http.ResponseWriter, r *http.Request) {
	icao := strings.ToLower(chi.URLParam(r, "icao"))
	if icao == "" {
		http.Error(w, "Missing aircraft ID", http.StatusBadRequest)
		return
	}

	flights, err := h.store.Flights(r.Context(), icao)
	if err != nil {
		h.logger.Error("Failed to load flights", logger.String("icao", icao), logger.Error(err))
		http.Error(w, "Failed to load flights", http.StatusInternalServerError)
		return
	}
	if len(flights) == 0 {
		http.Error(w, "Aircraft not found", http.StatusNotFound)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"icao":    icao,
		"count":   len(flights),
		"flights": flights,
	})
}

// GetAircraftSegments returns the stored phase segments of one aircraft.
// The optional phase and flight_id query parameters narrow the result.
func (h *Handler) GetAircraftSegments(w http.ResponseWriter, r *http.Request) {
	icao := strings.ToLower(chi.URLParam(r, "icao"))
	if icao == "" {
		http.Error(w, "Missing aircraft ID", http.StatusBadRequest)
		return
	}

	var phase string
	if p := r.URL.Query().Get("phase"); p != "" {
		parsed, ok := adsb.ParsePhase(strings.ToUpper(p))
		if !ok {
			http.Error(w, "Invalid phase", http.StatusBadRequest)
			return
		}
		phase = parsed.String()
	}
	flightID := r.URL.Query().Get("flight_id")

	segs, err := h.store.Segments(r.Context(), icao)
	if err != nil {
		h.logger.Error("Failed to load segments", logger.String("icao", icao), logger.Error(err))
		http.Error(w, "Failed to load segments", http.StatusInternalServerError)
		return
	}

	filtered := make([]adsb.Record, 0, len(segs))
	for _, s := range segs {
		if phase != "" && s.Phase != phase {
			continue
		}
		if flightID != "" && s.FlightID != flightID {
			continue
		}
		filtered = append(filtered, s)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"icao":     icao,
		"count":    len(filtered),
		"segments": filtered,
	})
}

// ClassifyRequest carries one trajectory as parallel arrays. Unknown speeds
// are sent as null.
type ClassifyRequest struct {
	AircraftID string              `json:"icao,omitempty"`
	TS         []float64           `json:"ts"`
	Alt        []float64           `json:"alt"`
	Spd        adsb.NullableFloats `json:"spd"`
	Roc        []float64           `json:"roc"`
}

// ClassifyResponse is the result of an on-demand classification
type ClassifyResponse struct {
	AircraftID string         `json:"icao,omitempty"`
	Labels     []adsb.Phase   `json:"labels"`
	Windows    []fuzzy.Window `json:"windows"`
}

// Classify labels a trajectory posted in the request body
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxClassifyBody))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	// a missing speed column means every speed is unknown
	if req.Spd == nil && len(req.TS) > 0 {
		req.Spd = make(adsb.NullableFloats, len(req.TS))
		for i := range req.Spd {
			req.Spd[i] = math.NaN()
		}
	}

	res, err := h.classifier.Classify(req.TS, req.Alt, req.Spd, req.Roc)
	switch {
	case errors.Is(err, fuzzy.ErrShapeMismatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, fuzzy.ErrInsufficientData):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		h.logger.Error("Classification failed", logger.String("icao", req.AircraftID), logger.Error(err))
		http.Error(w, "Classification failed", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("Classified trajectory",
		logger.String("icao", req.AircraftID),
		logger.Int("samples", len(req.TS)),
		logger.Int("windows", len(res.Windows)))

	WriteJSON(w, http.StatusOK, ClassifyResponse{
		AircraftID: req.AircraftID,
		Labels:     res.Labels,
		Windows:    res.Windows,
	})
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
