package terminal

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/config"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/domain"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/metrics"
)

const (
	signatureHeader = "X-Terminal-Signature"
	maxResponseSize = 1 << 20
)

// HTTPClient speaks the terminal's XML command protocol over HTTP.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	signingKey []byte
	timeouts   map[deviceClass]time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewHTTPClient(cfg config.TerminalConfig, m *metrics.Metrics, logger *slog.Logger) (*HTTPClient, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid terminal base URL %q", cfg.BaseURL)
	}

	return &HTTPClient{
		endpoint:   strings.TrimRight(base.String(), "/") + "/transaction",
		httpClient: &http.Client{},
		signingKey: []byte(cfg.SigningKey),
		timeouts: map[deviceClass]time.Duration{
			classEMV:    cfg.EMVTimeout,
			classPrompt: cfg.PromptTimeout,
			classAdmin:  cfg.AdminTimeout,
		},
		metrics: m,
		logger:  logger,
	}, nil
}

func (c *HTTPClient) Send(ctx context.Context, req application.TerminalRequest) (*domain.AuthorizationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, protocolError("INVALID_REQUEST", "request rejected before sending", err)
	}

	code, ok := tranCodes[req.Type]
	if !ok {
		return nil, protocolError("UNSUPPORTED", fmt.Sprintf("unsupported request type %q", req.Type), nil)
	}

	if timeout := c.timeouts[code.class]; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := c.roundTrip(ctx, req, code)
	c.metrics.ObserveTerminal(string(req.Type), outcomeLabel(err), time.Since(start))

	if err != nil {
		c.logger.Warn("terminal request failed",
			"type", req.Type,
			"terminal_id", req.TerminalID,
			"reference", req.Reference,
			"error", err,
		)
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) roundTrip(ctx context.Context, req application.TerminalRequest, code tranCode) (*domain.AuthorizationResult, error) {
	body, err := xml.Marshal(buildRequest(req, code))
	if err != nil {
		return nil, protocolError("ENCODE", "could not encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, protocolError("ENCODE", "could not build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/xml")
	if len(c.signingKey) > 0 {
		httpReq.Header.Set(signatureHeader, sign(c.signingKey, body))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPStatus(resp.StatusCode, respBody)
	}

	if len(c.signingKey) > 0 && !verify(c.signingKey, respBody, resp.Header.Get(signatureHeader)) {
		return nil, protocolError("BAD_SIGNATURE", "response signature did not verify", nil)
	}

	var decoded rStream
	if err := xml.Unmarshal(respBody, &decoded); err != nil {
		return nil, protocolError("MALFORMED", "could not decode terminal response", err)
	}

	return interpret(req, &decoded)
}

func buildRequest(req application.TerminalRequest, code tranCode) tStream {
	tran := transaction{
		TranType:   code.tranType,
		TranCode:   code.code,
		TerminalID: req.TerminalID,
		InvoiceNo:  req.InvoiceNo,
		RefNo:      req.Reference,
		RecordNo:   req.RecordNo,
	}
	if req.AmountCents > 0 || req.TipCents > 0 {
		tran.Amount = &amount{}
		if req.AmountCents > 0 {
			tran.Amount.Purchase = domain.FormatCents(req.AmountCents)
		}
		if req.TipCents > 0 {
			tran.Amount.Gratuity = domain.FormatCents(req.TipCents)
		}
	}
	return tStream{Transaction: tran}
}

// interpret maps a decoded response onto a result or a classified error.
func interpret(req application.TerminalRequest, resp *rStream) (*domain.AuthorizationResult, error) {
	cmd := resp.CmdResponse
	result, err := toResult(resp)
	if err != nil {
		return nil, err
	}

	switch cmd.CmdStatus {
	case statusApproved, statusSuccess:
		result.Success = true
		return result, nil
	case statusDeclined:
		reason := cmd.TextResponse
		if reason == "" {
			reason = "declined"
		}
		result.DeclineReason = &reason
		return nil, &application.TerminalError{
			Kind:    application.TerminalDecline,
			Code:    cmd.DSIXReturnCode,
			Message: reason,
			Result:  result,
		}
	case statusBusy:
		return nil, &application.TerminalError{
			Kind:      application.TerminalDeviceBusy,
			Code:      cmd.DSIXReturnCode,
			Message:   cmd.TextResponse,
			Retryable: true,
		}
	case statusNotFound:
		if req.Type != application.RequestStatusCheck {
			return nil, protocolError(cmd.DSIXReturnCode, "record not found: "+cmd.TextResponse, nil)
		}
		result.ResponseCode = application.ResponseCodeNotFound
		return result, nil
	default:
		return nil, protocolError(cmd.DSIXReturnCode, fmt.Sprintf("unexpected status %q: %s", cmd.CmdStatus, cmd.TextResponse), nil)
	}
}

func toResult(resp *rStream) (*domain.AuthorizationResult, error) {
	tran := resp.TranResponse
	result := &domain.AuthorizationResult{
		ResponseCode:      resp.CmdResponse.DSIXReturnCode,
		AuthCode:          tran.AuthCode,
		ReferenceNumber:   tran.RecordNo,
		CardBrand:         tran.CardType,
		Last4:             lastFour(tran.AcctNo),
		EntryMethod:       tran.EntryMethod,
		IsRetryable:       tran.Retryable,
		SignatureRequired: tran.SignatureRequired,
		Message:           resp.CmdResponse.TextResponse,
	}

	if tran.Amount.Authorize != "" {
		cents, err := domain.ParseAmount(tran.Amount.Authorize)
		if err != nil {
			return nil, protocolError("MALFORMED", "invalid authorized amount", err)
		}
		result.AmountCents = cents
	}
	if tran.Amount.Gratuity != "" {
		cents, err := domain.ParseAmount(tran.Amount.Gratuity)
		if err != nil {
			return nil, protocolError("MALFORMED", "invalid gratuity amount", err)
		}
		result.TipCents = cents
	}
	return result, nil
}

func lastFour(acct string) string {
	acct = strings.TrimSpace(acct)
	if len(acct) < 4 {
		return ""
	}
	return acct[len(acct)-4:]
}

func sign(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verify(key, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if termErr, ok := application.IsTerminalError(err); ok {
		return string(termErr.Kind)
	}
	return "error"
}
