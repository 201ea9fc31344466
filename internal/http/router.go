package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/giginhq/gig-settlement/internal/idempotency"
	"github.com/giginhq/gig-settlement/internal/observability"
	"github.com/giginhq/gig-settlement/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(JWTMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyMiddleware(idemp))

	r.Post("/v1/gigs/{gigID}/applications", h.Apply)
	r.Post("/v1/gigs/{gigID}/invitations", h.Invite)
	r.Post("/v1/gigs/{gigID}/negotiations", h.Negotiate)
	r.Post("/v1/gigs/{gigID}/accept", h.Accept)
	r.Post("/v1/gigs/{gigID}/decline", h.Decline)
	r.Post("/v1/gigs/{gigID}/withdraw", h.Withdraw)
	r.Post("/v1/gigs/{gigID}/cancel", h.Cancel)
	r.Post("/v1/gigs/{gigID}/disputes", h.FileDispute)
	r.Post("/v1/gigs/{gigID}/applicants/viewed", h.MarkApplicantsViewed)
	r.Get("/v1/gigs/{gigID}", h.GetGig)
	r.Get("/v1/conversations/{convID}/messages", h.GetMessages)
	r.Post("/v1/payments/callback", h.PaymentCallback)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
