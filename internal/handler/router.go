package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Shivanand-hulikatti/hookdock/internal/metrics"
)

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	AdminToken        string
	CORSAllowOrigin   string
	TrustProxyHeaders bool
}

// Deps groups the handlers and shared components mounted on the router.
type Deps struct {
	Bins    *BinHandler
	Events  *EventHandler
	Ingest  *IngestHandler
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// NewRouter builds the full route tree. Requests under /i/ go straight to
// the ingest handler without passing through chi's method table, so every
// verb a sender uses is captured, registered or not.
func NewRouter(cfg RouterConfig, d Deps) http.Handler {
	r := chi.NewRouter()

	// Health & metrics
	r.Get("/health", HealthCheck)
	r.Handle("/metrics", d.Metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(CORS(cfg.CORSAllowOrigin))

		r.Route("/bins", func(r chi.Router) {
			r.Get("/", d.Bins.ListBins)
			r.With(RequireAdmin(cfg.AdminToken)).Post("/", d.Bins.CreateBin)

			r.Route("/{binID}", func(r chi.Router) {
				r.Get("/", d.Bins.GetBin)
				r.Get("/events", d.Bins.ListEvents)
				r.Get("/export", d.Bins.ExportBin)

				r.Group(func(r chi.Router) {
					r.Use(RequireAdmin(cfg.AdminToken))
					r.Delete("/", d.Bins.DeleteBin)
					r.Post("/archive", d.Bins.ArchiveBin)
				})
			})
		})

		r.Route("/events/{eventID}", func(r chi.Router) {
			r.Get("/", d.Events.GetEvent)
			r.Post("/replay", d.Events.Replay)
		})
	})

	// Global middleware stack, shared by ingestion and the API.
	mws := chi.Middlewares{
		chimiddleware.Recoverer, // recover from panics, return 500
		chimiddleware.RequestID, // attach request IDs
	}
	if cfg.TrustProxyHeaders {
		mws = append(mws, chimiddleware.RealIP) // trust X-Forwarded-For
	}
	mws = append(mws, Logger(d.Log)) // structured access log

	return mws.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasPrefix(req.URL.Path, ingestPrefix) {
			d.Ingest.Ingest(w, req)
			return
		}
		r.ServeHTTP(w, req)
	})
}
