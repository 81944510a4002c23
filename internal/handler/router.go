package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/ekorolkova/fanpoints/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса fanpoints.
// metricsHandler отдаёт метрики Prometheus и не требует подписи шлюза.
func (h *Handler) SetupRouter(metricsHandler http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/economy", func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Post("/reactions", h.React)
		r.Post("/claims", h.Claim)
		r.Post("/purchases", h.Purchase)
		r.Post("/adjustments", h.Adjust)
		r.Post("/evaluations", h.Evaluate)

		r.Get("/users/{userID}/wallet", h.GetWallet)
		r.Get("/users/{userID}/transactions", h.GetTransactions)
		r.Get("/users/{userID}/streak", h.GetStreak)
		r.Get("/users/{userID}/purchases", h.GetPurchases)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
