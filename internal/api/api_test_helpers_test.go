package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/api/middleware"
	"github.com/phrazzld/taskbid/internal/api/shared"
	"github.com/phrazzld/taskbid/internal/clock"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/phrazzld/taskbid/internal/mocks"
	"github.com/phrazzld/taskbid/internal/platform/logger"
	"github.com/phrazzld/taskbid/internal/platform/memstore"
	"github.com/phrazzld/taskbid/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// apiFixture serves the real bid and payment services over an in-memory
// store and a mock gateway.
type apiFixture struct {
	t      *testing.T
	router http.Handler
	store  *memstore.Store
	clock  *clock.Fake
	gw     *mocks.MockGateway
	logs   *logger.TestLogBuffer

	customer uuid.UUID
	tasker   uuid.UUID
	tasker2  uuid.UUID
	taskID   uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	log, logs := logger.NewTestLogger()
	clk := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	st := memstore.New(clk)
	gw := mocks.NewMockGateway()

	bids, err := service.NewBidService(st, gw, clk, service.BidConfig{
		MinAmount:        decimal.RequireFromString("5"),
		MaxAmount:        decimal.RequireFromString("10000"),
		AutoAcceptAge:    48 * time.Hour,
		AutoAcceptPolicy: service.PolicyLowestAmount,
		Retention:        30 * 24 * time.Hour,
		BatchSize:        100,
		Workers:          1,
	}, log)
	require.NoError(t, err)

	payments, err := service.NewPaymentService(st, gw, clk, service.PaymentConfig{
		FeePercentage:   decimal.RequireFromString("10"),
		Currency:        "USD",
		DefaultMethod:   domain.PaymentMethodCreditCard,
		MaxRetries:      3,
		ProviderTimeout: 200 * time.Millisecond,
		PendingGrace:    5 * time.Minute,
		PendingTimeout:  24 * time.Hour,
		RetryBackoff:    10 * time.Minute,
		StuckProcessing: 15 * time.Minute,
		Retention:       90 * 24 * time.Hour,
		BatchSize:       100,
		Workers:         1,
	}, log)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(middleware.NewTraceMiddleware(log))
	RegisterRoutes(r,
		NewBidHandler(bids, log),
		NewPaymentHandler(payments, log),
		middleware.NewIdentityMiddleware(log),
	)

	customer := gw.AddUser(domain.RoleCustomer)
	return &apiFixture{
		t:        t,
		router:   r,
		store:    st,
		clock:    clk,
		gw:       gw,
		logs:     logs,
		customer: customer,
		tasker:   gw.AddUser(domain.RoleTasker),
		tasker2:  gw.AddUser(domain.RoleTasker),
		taskID:   gw.AddTask(customer),
	}
}

func asCustomer(id uuid.UUID) domain.Caller {
	return domain.Caller{UserID: id, Role: domain.RoleCustomer}
}

func asTasker(id uuid.UUID) domain.Caller {
	return domain.Caller{UserID: id, Role: domain.RoleTasker}
}

func asAdmin() domain.Caller {
	return domain.Caller{UserID: uuid.New(), Role: domain.RoleAdmin}
}

// do sends a request as caller. A nil body sends no body; strings are sent
// verbatim and anything else is JSON encoded.
func (f *apiFixture) do(method, path string, caller *domain.Caller, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(f.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set(middleware.HeaderUserID, caller.UserID.String())
		req.Header.Set(middleware.HeaderUserRole, string(caller.Role))
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[shared.ErrorResponse](t, w).Error
}

func callerPtr(c domain.Caller) *domain.Caller { return &c }

// placeBid creates a pending bid over HTTP.
func (f *apiFixture) placeBid(tasker uuid.UUID, amount string) BidResponse {
	f.t.Helper()
	w := f.do(http.MethodPost, "/api/bids", callerPtr(asTasker(tasker)), CreateBidRequest{
		TaskID: f.taskID.String(),
		Amount: amount,
	})
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[BidResponse](f.t, w)
}

// acceptedPayment places and accepts a bid and creates its task payment.
func (f *apiFixture) acceptedPayment(amount string) (BidResponse, PaymentResponse) {
	f.t.Helper()
	bid := f.placeBid(f.tasker, amount)
	w := f.do(http.MethodPost, "/api/bids/"+bid.ID.String()+"/accept", callerPtr(asCustomer(f.customer)), nil)
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(http.MethodPost, "/api/payments", callerPtr(asCustomer(f.customer)), CreatePaymentRequest{
		CustomerID: f.customer.String(),
		TaskerID:   f.tasker.String(),
		TaskID:     f.taskID.String(),
		BidID:      bid.ID.String(),
		Amount:     amount,
	})
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[BidResponse](f.t, f.do(http.MethodGet, "/api/bids/"+bid.ID.String(), callerPtr(asCustomer(f.customer)), nil)),
		decodeBody[PaymentResponse](f.t, w)
}

