package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestHTTPTaskService(t *testing.T) {
	taskID := uuid.New()
	customerID := uuid.New()
	taskerID := uuid.New()

	var gotStatus taskStatusRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tasks/"+taskID.String(), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, TaskInfo{ID: taskID, CustomerID: customerID, Status: TaskStatusOpen})
	})
	mux.HandleFunc("/api/tasks/"+taskID.String()+"/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotStatus))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/tasks/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc, err := NewHTTPTaskService(srv.URL+"/", time.Second, testLogger())
	require.NoError(t, err)

	t.Run("get task", func(t *testing.T) {
		info, err := svc.GetTaskInfo(context.Background(), taskID)
		require.NoError(t, err)
		assert.Equal(t, customerID, info.CustomerID)
		assert.True(t, info.Status.AcceptsBids())
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := svc.GetTaskInfo(context.Background(), uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update status", func(t *testing.T) {
		require.NoError(t, svc.UpdateTaskStatus(context.Background(), taskID, TaskStatusAssigned, &taskerID))
		assert.Equal(t, TaskStatusAssigned, gotStatus.Status)
		require.NotNil(t, gotStatus.AssignedTaskerID)
		assert.Equal(t, taskerID, *gotStatus.AssignedTaskerID)
	})

	t.Run("server error is unavailable", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer failing.Close()

		svc, err := NewHTTPTaskService(failing.URL, time.Second, testLogger())
		require.NoError(t, err)
		_, err = svc.GetTaskInfo(context.Background(), taskID)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("requires base URL", func(t *testing.T) {
		_, err := NewHTTPTaskService("", time.Second, testLogger())
		assert.Error(t, err)
	})
}

func TestHTTPUserService(t *testing.T) {
	userID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/users/" + userID.String():
			writeJSON(t, w, http.StatusOK, UserInfo{ID: userID, Name: "Ada", Roles: []domain.Role{domain.RoleTasker}})
		case "/api/taskers/" + userID.String():
			writeJSON(t, w, http.StatusOK, TaskerInfo{ID: userID, Name: "Ada", Active: true})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	svc, err := NewHTTPUserService(srv.URL, time.Second, testLogger())
	require.NoError(t, err)

	tasker, err := svc.GetTaskerInfo(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, tasker.Active)

	ok, err := svc.ValidateUserRole(context.Background(), userID, domain.RoleTasker)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.ValidateUserRole(context.Background(), userID, domain.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.ValidateUserRole(context.Background(), uuid.New(), domain.RoleTasker)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testPayment(t *testing.T) *domain.Payment {
	t.Helper()
	p, err := domain.NewPayment(domain.NewPaymentParams{
		CustomerID:    uuid.New(),
		Amount:        decimal.RequireFromString("150.00"),
		Currency:      "USD",
		Method:        domain.PaymentMethodCreditCard,
		Type:          domain.PaymentTypeTaskPayment,
		FeePercentage: decimal.NewFromInt(10),
		MaxRetries:    3,
	})
	require.NoError(t, err)
	return p
}

func TestHTTPPaymentProvider(t *testing.T) {
	t.Run("charge sends idempotency key", func(t *testing.T) {
		payment := testPayment(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/charges", r.URL.Path)
			assert.Equal(t, payment.ID.String(), r.Header.Get(IdempotencyKeyHeader))
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

			var req chargeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.True(t, payment.Amount.Equal(req.Amount))

			writeJSON(t, w, http.StatusOK, transactionResponse{TransactionID: "tx_123", Status: ProviderStatusSucceeded})
		}))
		defer srv.Close()

		provider, err := NewHTTPPaymentProvider(srv.URL, "secret", time.Second, testLogger())
		require.NoError(t, err)

		txID, err := provider.ChargePayment(context.Background(), payment)
		require.NoError(t, err)
		assert.Equal(t, "tx_123", txID)
	})

	t.Run("declined charge", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusPaymentRequired, map[string]string{"error": "card declined"})
		}))
		defer srv.Close()

		provider, err := NewHTTPPaymentProvider(srv.URL, "", time.Second, testLogger())
		require.NoError(t, err)

		_, err = provider.ChargePayment(context.Background(), testPayment(t))
		assert.ErrorIs(t, err, ErrProviderError)
		assert.NotErrorIs(t, err, ErrProviderTimeout)
		assert.Contains(t, err.Error(), "card declined")
	})

	t.Run("failed status in body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, http.StatusOK, transactionResponse{Status: ProviderStatusFailed, Message: "insufficient funds"})
		}))
		defer srv.Close()

		provider, err := NewHTTPPaymentProvider(srv.URL, "", time.Second, testLogger())
		require.NoError(t, err)

		_, err = provider.ChargePayment(context.Background(), testPayment(t))
		assert.ErrorIs(t, err, ErrProviderError)
	})

	t.Run("slow provider times out", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		provider, err := NewHTTPPaymentProvider(srv.URL, "", 50*time.Millisecond, testLogger())
		require.NoError(t, err)

		_, err = provider.ChargePayment(context.Background(), testPayment(t))
		assert.ErrorIs(t, err, ErrProviderTimeout)
		assert.ErrorIs(t, err, ErrProviderError)
	})

	t.Run("refund needs original transaction", func(t *testing.T) {
		provider, err := NewHTTPPaymentProvider("http://localhost", "", time.Second, testLogger())
		require.NoError(t, err)

		_, err = provider.RefundPayment(context.Background(), testPayment(t), testPayment(t))
		assert.ErrorIs(t, err, ErrProviderError)
	})

	t.Run("refund and status check", func(t *testing.T) {
		original := testPayment(t)
		txID := "tx_orig"
		original.ExternalTransactionID = &txID
		refund := testPayment(t)

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/v1/refunds":
				var req refundRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, txID, req.OriginalTransactionID)
				assert.Equal(t, refund.ID.String(), r.Header.Get(IdempotencyKeyHeader))
				writeJSON(t, w, http.StatusOK, transactionResponse{TransactionID: "re_1", Status: ProviderStatusRefunded})
			case "/v1/transactions/tx_orig":
				writeJSON(t, w, http.StatusOK, transactionResponse{TransactionID: txID, Status: ProviderStatusRefunded})
			default:
				http.NotFound(w, r)
			}
		}))
		defer srv.Close()

		provider, err := NewHTTPPaymentProvider(srv.URL, "", time.Second, testLogger())
		require.NoError(t, err)

		refundTx, err := provider.RefundPayment(context.Background(), original, refund)
		require.NoError(t, err)
		assert.Equal(t, "re_1", refundTx)

		status, err := provider.CheckPaymentStatus(context.Background(), txID)
		require.NoError(t, err)
		assert.Equal(t, ProviderStatusRefunded, status)

		_, err = provider.CheckPaymentStatus(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects non-positive timeout", func(t *testing.T) {
		_, err := NewHTTPPaymentProvider("http://localhost", "", 0, testLogger())
		assert.Error(t, err)
	})
}
