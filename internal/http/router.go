package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handler *Handler) http.Handler {
	authLimiter := NewRateLimiter(handler.opts.AuthRateLimitRPS, handler.opts.AuthRateLimitBurst)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger(handler.logger))
	r.Use(Recoverer(handler.logger))
	r.Use(Timeout)
	r.Use(CORS(handler.opts.AllowedOrigins))

	r.Get("/healthz", handler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(RateLimit(authLimiter, handler.logger)).Post("/register", handler.Register)
			r.With(RateLimit(authLimiter, handler.logger)).Post("/login", handler.Login)
			r.Post("/logout", handler.Logout)
			r.Get("/me", handler.Me)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireUser(handler, handler.logger))

			r.Get("/products", handler.ListProducts)
			r.Get("/products/{id}/series", handler.ProductSeries)
			r.Post("/series/compare", handler.CompareSeries)
			r.Get("/series/export", handler.ExportSeries)
			r.Post("/upload", handler.Upload)
		})
	})

	return r
}
