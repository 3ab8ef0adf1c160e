package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/taskbid/internal/api"
	apiMiddleware "github.com/phrazzld/taskbid/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	bidHandler := api.NewBidHandler(app.bidService, app.logger)
	paymentHandler := api.NewPaymentHandler(app.paymentService, app.logger)
	identity := apiMiddleware.NewIdentityMiddleware(app.logger)

	api.RegisterRoutes(r, bidHandler, paymentHandler, identity)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
