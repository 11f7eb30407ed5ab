package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/dreampot/paycore/internal/dispatch"
	"github.com/dreampot/paycore/internal/reconciliation"
	"github.com/dreampot/paycore/internal/webhook"
)

// NewRouter creates the Chi router with all routes mounted.
func NewRouter(
	webhookHandler *webhook.Handler,
	reconSvc *reconciliation.Service,
	dispatchSvc *dispatch.Service,
	jobToken string,
	logger *zap.Logger,
) http.Handler {
	h := &Handlers{
		reconSvc:    reconSvc,
		dispatchSvc: dispatchSvc,
		jobToken:    jobToken,
		logger:      logger,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Provider webhooks. Responses are always JSON but the request bodies
	// arrive in each provider's native encoding.
	r.Post("/webhooks/{provider}", webhookHandler.Handle)

	// Internal jobs, invoked by the scheduler.
	r.Route("/internal/jobs", func(r chi.Router) {
		r.Post("/reconcile", h.requireJobToken(h.RunReconciliation))
		r.Post("/dispatch", h.requireJobToken(h.RunDispatchSweep))
		r.Post("/dispatch/{reference}", h.requireJobToken(h.DispatchByReference))
	})

	r.Get("/healthz", h.Healthz)

	return r
}
