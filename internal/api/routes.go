package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/taskbid/internal/api/middleware"
)

// RegisterRoutes mounts the bid and payment endpoints under /api. Every
// route requires a caller identity.
func RegisterRoutes(
	r chi.Router,
	bids *BidHandler,
	payments *PaymentHandler,
	identity *middleware.IdentityMiddleware,
) {
	r.Route("/api", func(r chi.Router) {
		r.Use(identity.Identify)

		r.Post("/bids", bids.CreateBid)
		r.Route("/bids/{id}", func(r chi.Router) {
			r.Get("/", bids.GetBid)
			r.Put("/", bids.UpdateBid)
			r.Post("/accept", bids.AcceptBid)
			r.Post("/reject", bids.RejectBid)
			r.Post("/withdraw", bids.WithdrawBid)
			r.Post("/complete", bids.CompleteBid)
			r.Post("/cancel", bids.CancelBid)
		})
		r.Get("/tasks/{taskID}/bids", bids.ListTaskBids)

		r.Post("/payments", payments.CreatePayment)
		r.Route("/payments/{id}", func(r chi.Router) {
			r.Get("/", payments.GetPayment)
			r.Post("/process", payments.ProcessPayment)
			r.Post("/retry", payments.RetryPayment)
			r.Post("/refund", payments.RefundPayment)
			r.Post("/cancel", payments.CancelPayment)
			r.Post("/grant-retries", payments.GrantRetries)
			r.Get("/provider-status", payments.GetProviderStatus)
		})
		r.Get("/customers/{id}/payments", payments.ListCustomerPayments)
	})
}
