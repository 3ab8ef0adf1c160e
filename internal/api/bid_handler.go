package api

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/api/shared"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/phrazzld/taskbid/internal/service"
)

// BidHandler handles bid-related HTTP requests.
type BidHandler struct {
	bidService service.BidService
	logger     *slog.Logger
}

// NewBidHandler creates a new BidHandler.
func NewBidHandler(bidService service.BidService, log *slog.Logger) *BidHandler {
	if bidService == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("bidService cannot be nil for BidHandler")
	}
	if log == nil {
		log = slog.Default()
	}

	return &BidHandler{
		bidService: bidService,
		logger:     log.With(slog.String("component", "bid_handler")),
	}
}

// CreateBid handles POST /bids.
func (h *BidHandler) CreateBid(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	caller, ok := getCallerFromContext(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Caller identity required")
		return
	}

	var req CreateBidRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid amount: must be a decimal number", err)
		return
	}

	taskID := parseOptionalUUID(req.TaskID)
	if taskID == nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task_id: must be a UUID")
		return
	}

	input := service.CreateBidInput{
		TaskID:         *taskID,
		Amount:         amount,
		Message:        req.Message,
		EstimatedHours: req.EstimatedHours,
	}
	if tasker := parseOptionalUUID(req.TaskerID); tasker != nil {
		input.TaskerID = *tasker
	}

	bid, err := h.bidService.CreateBid(r.Context(), caller, input)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create bid")
		return
	}

	log.Debug("bid created", slog.String("bid_id", bid.ID.String()))
	shared.RespondWithJSON(w, r, http.StatusCreated, bidToResponse(bid))
}

// GetBid handles GET /bids/{id}.
func (h *BidHandler) GetBid(w http.ResponseWriter, r *http.Request) {
	caller, bidID, ok := handleCallerAndPathUUID(w, r, "id", "bid", nil)
	if !ok {
		return
	}

	bid, err := h.bidService.GetBid(r.Context(), caller, bidID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get bid")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, bidToResponse(bid))
}

// ListTaskBids handles GET /tasks/{taskID}/bids.
func (h *BidHandler) ListTaskBids(w http.ResponseWriter, r *http.Request) {
	caller, taskID, ok := handleCallerAndPathUUID(w, r, "taskID", "task", nil)
	if !ok {
		return
	}

	bids, err := h.bidService.ListTaskBids(r.Context(), caller, taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list bids")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, bidsToResponse(bids))
}

// UpdateBid handles PUT /bids/{id}.
func (h *BidHandler) UpdateBid(w http.ResponseWriter, r *http.Request) {
	caller, bidID, ok := handleCallerAndPathUUID(w, r, "id", "bid", nil)
	if !ok {
		return
	}

	var req UpdateBidRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid amount: must be a decimal number", err)
		return
	}

	bid, err := h.bidService.UpdateBid(r.Context(), caller, bidID, amount, req.Message)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to update bid")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, bidToResponse(bid))
}

// AcceptBid handles POST /bids/{id}/accept.
func (h *BidHandler) AcceptBid(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, false, "Failed to accept bid",
		func(caller domain.Caller, id uuid.UUID, _ string) (*domain.Bid, error) {
			return h.bidService.AcceptBid(r.Context(), caller, id)
		})
}

// RejectBid handles POST /bids/{id}/reject.
func (h *BidHandler) RejectBid(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, true, "Failed to reject bid",
		func(caller domain.Caller, id uuid.UUID, reason string) (*domain.Bid, error) {
			return h.bidService.RejectBid(r.Context(), caller, id, reason)
		})
}

// WithdrawBid handles POST /bids/{id}/withdraw.
func (h *BidHandler) WithdrawBid(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, true, "Failed to withdraw bid",
		func(caller domain.Caller, id uuid.UUID, reason string) (*domain.Bid, error) {
			return h.bidService.WithdrawBid(r.Context(), caller, id, reason)
		})
}

// CompleteBid handles POST /bids/{id}/complete.
func (h *BidHandler) CompleteBid(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, false, "Failed to complete bid",
		func(caller domain.Caller, id uuid.UUID, _ string) (*domain.Bid, error) {
			return h.bidService.CompleteBid(r.Context(), caller, id)
		})
}

// CancelBid handles POST /bids/{id}/cancel.
func (h *BidHandler) CancelBid(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, true, "Failed to cancel bid",
		func(caller domain.Caller, id uuid.UUID, reason string) (*domain.Bid, error) {
			return h.bidService.CancelBid(r.Context(), caller, id, reason)
		})
}

// transition runs a single-bid state change. When withReason is set an
// optional {"reason": "..."} body is read.
func (h *BidHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	withReason bool,
	fallbackMsg string,
	apply func(caller domain.Caller, id uuid.UUID, reason string) (*domain.Bid, error),
) {
	caller, bidID, ok := handleCallerAndPathUUID(w, r, "id", "bid", nil)
	if !ok {
		return
	}

	var req ReasonRequest
	if withReason && !decodeAndValidate(w, r, &req, true) {
		return
	}

	bid, err := apply(caller, bidID, req.Reason)
	if err != nil {
		HandleAPIError(w, r, err, fallbackMsg)
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Debug("bid transitioned",
		slog.String("bid_id", bid.ID.String()),
		slog.String("status", string(bid.Status)))
	shared.RespondWithJSON(w, r, http.StatusOK, bidToResponse(bid))
}
