package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/config"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/infrastructure/auth"
)

const tokenValidity = 5 * time.Minute

// SyncErrorKind tells the worker what to do with an entry after a failed sync.
type SyncErrorKind int

const (
	// SyncRetryable failures are retried with backoff.
	SyncRetryable SyncErrorKind = iota
	// SyncDeferred means the server does not know the order yet.
	SyncDeferred
	// SyncRejected failures need manual resolution.
	SyncRejected
)

func (k SyncErrorKind) String() string {
	switch k {
	case SyncRetryable:
		return "retryable"
	case SyncDeferred:
		return "deferred"
	case SyncRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type SyncError struct {
	Kind       SyncErrorKind
	Code       string
	StatusCode int
	Message    string
	Err        error
}

func (e *SyncError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("sync %s (%d %s): %s", e.Kind, e.StatusCode, e.Code, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("sync %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("sync %s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Err }

// SyncAck is the server's answer to a successful sync.
type SyncAck struct {
	ServerID    string             `json:"server_id"`
	Status      string             `json:"status"`
	LocalID     string             `json:"local_id"`
	OrderID     string             `json:"order_id"`
	OrderStatus domain.OrderStatus `json:"order_status"`
}

// SyncClient delivers one queued payment to the server.
type SyncClient interface {
	Sync(ctx context.Context, localID string, p domain.OfflinePayment) (*SyncAck, error)
}

type syncRequest struct {
	LocalID string `json:"local_id"`
	domain.OfflinePayment
}

type syncEnvelope struct {
	Success bool     `json:"success"`
	Data    *SyncAck `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPSyncClient posts payments to /payments/sync with a short-lived
// terminal token.
type HTTPSyncClient struct {
	baseURL    string
	terminalID string
	secret     []byte
	httpClient *http.Client
}

func NewHTTPSyncClient(cfg config.SyncConfig, terminalID string) *HTTPSyncClient {
	return &HTTPSyncClient{
		baseURL:    strings.TrimRight(cfg.ServerURL, "/"),
		terminalID: terminalID,
		secret:     []byte(cfg.JWTSecret),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPSyncClient) Sync(ctx context.Context, localID string, p domain.OfflinePayment) (*SyncAck, error) {
	body, err := json.Marshal(syncRequest{LocalID: localID, OfflinePayment: p})
	if err != nil {
		return nil, &SyncError{Kind: SyncRejected, Message: "encode request", Err: err}
	}

	token, err := auth.GenerateToken(c.terminalID, c.secret, tokenValidity)
	if err != nil {
		return nil, &SyncError{Kind: SyncRejected, Message: "sign token", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments/sync", bytes.NewReader(body))
	if err != nil {
		return nil, &SyncError{Kind: SyncRejected, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", p.IdempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SyncError{Kind: SyncRetryable, Message: "server unreachable", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &SyncError{Kind: SyncRetryable, StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	var env syncEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, classifyStatus(resp.StatusCode, "", fmt.Sprintf("undecodable response: %s", truncate(raw)))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && env.Success && env.Data != nil {
		if env.Data.ServerID == "" {
			return nil, &SyncError{Kind: SyncRetryable, StatusCode: resp.StatusCode, Message: "response has no server id"}
		}
		return env.Data, nil
	}

	code, message := "", resp.Status
	if env.Error != nil {
		code, message = env.Error.Code, env.Error.Message
	}
	return nil, classifyStatus(resp.StatusCode, code, message)
}

func classifyStatus(status int, code, message string) *SyncError {
	e := &SyncError{StatusCode: status, Code: code, Message: message}
	switch {
	case code == domain.ErrCodeOrderNotFound:
		e.Kind = SyncDeferred
	case code == application.ErrCodeRequestProcessing,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status == http.StatusUnauthorized,
		status >= 500:
		e.Kind = SyncRetryable
	case status >= 400:
		e.Kind = SyncRejected
	default:
		e.Kind = SyncRetryable
	}
	return e
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// AsSyncError unwraps err into a SyncError, treating anything else as retryable.
func AsSyncError(err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	return &SyncError{Kind: SyncRetryable, Message: err.Error(), Err: err}
}
