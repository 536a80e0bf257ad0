package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/api/handler"
	apimw "github.com/notifyhub/creator-relay/internal/api/middleware"
	"github.com/notifyhub/creator-relay/internal/processor"
	"github.com/notifyhub/creator-relay/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.RelayService,
	proc *processor.Processor,
	reg prometheus.Gatherer,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	rh := handler.NewRelayHandler(svc, logger)
	hh := handler.NewHealthHandler(stateOf(proc))

	// --- routes ---
	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/queue/drain", rh.Drain)

		r.Get("/jobs", rh.ListJobs)
		r.Get("/jobs/{id}", rh.GetJob)

		r.Get("/mappings", rh.ListMappings)
		r.Get("/mappings/{username}", rh.GetMapping)
		r.Put("/mappings/{username}", rh.UpsertMapping)
	})

	return r
}

type procState struct{ p *processor.Processor }

func (s procState) String() string { return s.p.State().String() }

func stateOf(p *processor.Processor) interface{ String() string } {
	if p == nil {
		return nil
	}
	return procState{p}
}
