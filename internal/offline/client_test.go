package offline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/infrastructure/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syncPayment(t *testing.T) domain.OfflinePayment {
	t.Helper()
	key, err := domain.NewIdempotencyKey("T3", "ord-1", 1500, time.Now())
	require.NoError(t, err)
	return domain.OfflinePayment{
		IdempotencyKey: key,
		OrderID:        "ord-1",
		TerminalID:     "T3",
		Method:         domain.MethodCash,
		AmountCents:    1500,
		CapturedAt:     time.Now().UTC(),
	}
}

func writeEnvelope(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestHTTPSyncClient_SendsSignedRequest(t *testing.T) {
	cfg := testSyncConfig()
	p := syncPayment(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/payments/sync", r.URL.Path)
		assert.Equal(t, p.IdempotencyKey, r.Header.Get("Idempotency-Key"))

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		terminalID, err := auth.TerminalFromToken(token, []byte(cfg.JWTSecret))
		assert.NoError(t, err)
		assert.Equal(t, "T3", terminalID)

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "T3-001", body["local_id"])
		assert.Equal(t, p.IdempotencyKey, body["idempotency_key"])
		assert.Equal(t, float64(1500), body["amount_cents"])

		writeEnvelope(w, http.StatusCreated, `{"success":true,"data":{"server_id":"srv-9","status":"applied","local_id":"T3-001","order_id":"ord-1","order_status":"paid"}}`)
	}))
	defer srv.Close()

	cfg.ServerURL = srv.URL + "/"
	client := NewHTTPSyncClient(cfg, "T3")

	ack, err := client.Sync(context.Background(), "T3-001", p)
	require.NoError(t, err)
	assert.Equal(t, "srv-9", ack.ServerID)
	assert.Equal(t, domain.OrderPaid, ack.OrderStatus)
}

func TestHTTPSyncClient_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   SyncErrorKind
	}{
		{"order not synced yet", http.StatusNotFound, `{"success":false,"error":{"code":"ORDER_NOT_FOUND","message":"order not found"}}`, SyncDeferred},
		{"request in flight", http.StatusConflict, `{"success":false,"error":{"code":"REQUEST_PROCESSING","message":"busy"}}`, SyncRetryable},
		{"server error", http.StatusInternalServerError, `{"success":false,"error":{"code":"INTERNAL_ERROR","message":"boom"}}`, SyncRetryable},
		{"gateway html", http.StatusBadGateway, `<html>bad gateway</html>`, SyncRetryable},
		{"rate limited", http.StatusTooManyRequests, `{}`, SyncRetryable},
		{"already paid", http.StatusConflict, `{"success":false,"error":{"code":"ORDER_ALREADY_PAID","message":"paid"}}`, SyncRejected},
		{"validation", http.StatusBadRequest, `{"success":false,"error":{"code":"AMOUNT_VALIDATION","message":"bad"}}`, SyncRejected},
		{"success without id", http.StatusOK, `{"success":true,"data":{"status":"applied"}}`, SyncRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, tt.status, tt.body)
			}))
			defer srv.Close()

			cfg := testSyncConfig()
			cfg.ServerURL = srv.URL
			_, err := NewHTTPSyncClient(cfg, "T3").Sync(context.Background(), "T3-001", syncPayment(t))
			require.Error(t, err)
			assert.Equal(t, tt.want, AsSyncError(err).Kind, err.Error())
		})
	}
}

func TestHTTPSyncClient_UnreachableServerIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := testSyncConfig()
	cfg.ServerURL = url
	_, err := NewHTTPSyncClient(cfg, "T3").Sync(context.Background(), "T3-001", syncPayment(t))
	require.Error(t, err)
	assert.Equal(t, SyncRetryable, AsSyncError(err).Kind)
}

func TestClassifyStatus_UsesErrorCodes(t *testing.T) {
	assert.Equal(t, SyncDeferred, classifyStatus(http.StatusNotFound, domain.ErrCodeOrderNotFound, "").Kind)
	assert.Equal(t, SyncRetryable, classifyStatus(http.StatusConflict, application.ErrCodeRequestProcessing, "").Kind)
	assert.Equal(t, SyncRejected, classifyStatus(http.StatusNotFound, "", "").Kind)
}
