package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/yegors/flightphase/pkg/logger"
)

// Router wires the handlers to their routes
type Router struct {
	handler *Handler
	logger  *logger.Logger
}

// NewRouter creates a new router
func NewRouter(handler *Handler, log *logger.Logger) *Router {
	return &Router{
		handler: handler,
		logger:  log.Named("api-router"),
	}
}

// Routes returns the HTTP handler for all routes
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(rt.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", rt.handler.GetHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/aircraft", rt.handler.GetAllAircraft)
		r.Route("/aircraft/{icao}", func(r chi.Router) {
			r.Get("/flights", rt.handler.GetAircraftFlights)
			r.Get("/segments", rt.handler.GetAircraftSegments)
		})
		r.Post("/classify", rt.handler.Classify)
	})

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		rt.logger.Debug("Request served",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}
