package terminal

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "terminal-secret"

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(config.TerminalConfig{
		BaseURL:       baseURL,
		SigningKey:    testKey,
		EMVTimeout:    time.Second,
		PromptTimeout: time.Second,
		AdminTimeout:  100 * time.Millisecond,
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return client
}

// terminalServer answers every request with body, signed with testKey.
func terminalServer(t *testing.T, status int, body string, inspect func(*tStream)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.True(t, verify([]byte(testKey), reqBody, r.Header.Get(signatureHeader)), "request must be signed")

		if inspect != nil {
			var decoded tStream
			require.NoError(t, xml.Unmarshal(reqBody, &decoded))
			inspect(&decoded)
		}

		w.Header().Set(signatureHeader, sign([]byte(testKey), []byte(body)))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func saleRequest() application.TerminalRequest {
	return application.TerminalRequest{
		Type:        application.RequestSale,
		TerminalID:  "T1",
		Reference:   "T1|o-1|4250|1700000000000|abc",
		AmountCents: 4250,
	}
}

const approvedBody = `<RStream>
  <CmdResponse><DSIXReturnCode>000000</DSIXReturnCode><CmdStatus>Approved</CmdStatus><TextResponse>AP</TextResponse></CmdResponse>
  <TranResponse>
    <AuthCode>123456</AuthCode><RecordNo>REC-9</RecordNo><CardType>VISA</CardType>
    <AcctNo>XXXXXXXXXXXX4242</AcctNo><EntryMethod>CHIP</EntryMethod>
    <SignatureRequired>true</SignatureRequired>
    <Amount><Authorize>42.50</Authorize></Amount>
  </TranResponse>
</RStream>`

func TestHTTPClient_Approved(t *testing.T) {
	srv := terminalServer(t, http.StatusOK, approvedBody, func(req *tStream) {
		assert.Equal(t, "EMVSale", req.Transaction.TranCode)
		assert.Equal(t, "T1|o-1|4250|1700000000000|abc", req.Transaction.RefNo)
		require.NotNil(t, req.Transaction.Amount)
		assert.Equal(t, "42.50", req.Transaction.Amount.Purchase)
	})

	result, err := newTestClient(t, srv.URL).Send(context.Background(), saleRequest())

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "REC-9", result.ReferenceNumber)
	assert.Equal(t, "4242", result.Last4)
	assert.Equal(t, "VISA", result.CardBrand)
	assert.Equal(t, int64(4250), result.AmountCents)
	assert.True(t, result.SignatureRequired)
}

func TestHTTPClient_Declined(t *testing.T) {
	body := `<RStream><CmdResponse><DSIXReturnCode>100200</DSIXReturnCode><CmdStatus>Declined</CmdStatus><TextResponse>INSUFFICIENT FUNDS</TextResponse></CmdResponse><TranResponse></TranResponse></RStream>`
	srv := terminalServer(t, http.StatusOK, body, nil)

	_, err := newTestClient(t, srv.URL).Send(context.Background(), saleRequest())

	termErr, ok := application.IsTerminalError(err)
	require.True(t, ok)
	assert.Equal(t, application.TerminalDecline, termErr.Kind)
	assert.False(t, termErr.Retryable)
	require.NotNil(t, termErr.Result)
	require.NotNil(t, termErr.Result.DeclineReason)
	assert.Equal(t, "INSUFFICIENT FUNDS", *termErr.Result.DeclineReason)
}

func TestHTTPClient_StatusCheckNotFound(t *testing.T) {
	body := `<RStream><CmdResponse><CmdStatus>NotFound</CmdStatus></CmdResponse></RStream>`
	srv := terminalServer(t, http.StatusOK, body, nil)

	result, err := newTestClient(t, srv.URL).Send(context.Background(), application.TerminalRequest{
		Type:       application.RequestStatusCheck,
		TerminalID: "T1",
		Reference:  "ref",
	})

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, application.ResponseCodeNotFound, result.ResponseCode)
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      application.TerminalErrorKind
		retryable bool
	}{
		{"busy status", http.StatusOK, `<RStream><CmdResponse><CmdStatus>Busy</CmdStatus></CmdResponse></RStream>`, application.TerminalDeviceBusy, true},
		{"http 503", http.StatusServiceUnavailable, "", application.TerminalDeviceBusy, true},
		{"http 500", http.StatusInternalServerError, "", application.TerminalNetwork, true},
		{"http 400", http.StatusBadRequest, "bad", application.TerminalProtocol, false},
		{"malformed xml", http.StatusOK, "<RStream><CmdResponse>", application.TerminalProtocol, false},
		{"unknown status", http.StatusOK, `<RStream><CmdResponse><CmdStatus>Error</CmdStatus></CmdResponse></RStream>`, application.TerminalProtocol, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := terminalServer(t, tt.status, tt.body, nil)

			_, err := newTestClient(t, srv.URL).Send(context.Background(), saleRequest())

			termErr, ok := application.IsTerminalError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.kind, termErr.Kind)
			assert.Equal(t, tt.retryable, termErr.Retryable)
		})
	}
}

func TestHTTPClient_RejectsBadSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(signatureHeader, sign([]byte("other-key"), []byte(approvedBody)))
		_, _ = w.Write([]byte(approvedBody))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Send(context.Background(), saleRequest())

	termErr, ok := application.IsTerminalError(err)
	require.True(t, ok)
	assert.Equal(t, application.TerminalProtocol, termErr.Kind)
	assert.Equal(t, "BAD_SIGNATURE", termErr.Code)
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	// Void is an admin command with the short timeout.
	_, err := newTestClient(t, srv.URL).Send(context.Background(), application.TerminalRequest{
		Type:       application.RequestVoid,
		TerminalID: "T1",
		RecordNo:   "REC-1",
	})

	termErr, ok := application.IsTerminalError(err)
	require.True(t, ok)
	assert.Equal(t, application.TerminalTimeout, termErr.Kind)
	assert.True(t, termErr.Retryable)
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := newTestClient(t, addr).Send(context.Background(), saleRequest())

	termErr, ok := application.IsTerminalError(err)
	require.True(t, ok)
	assert.Equal(t, application.TerminalNetwork, termErr.Kind)
	assert.True(t, termErr.Retryable)
}

func TestHTTPClient_InvalidRequestNeverSent(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	req := saleRequest()
	req.AmountCents = 0
	_, err := newTestClient(t, srv.URL).Send(context.Background(), req)

	termErr, ok := application.IsTerminalError(err)
	require.True(t, ok)
	assert.Equal(t, application.TerminalProtocol, termErr.Kind)
	assert.False(t, called)
}

func TestClassifyTransportError(t *testing.T) {
	wrap := func(err error) error {
		return &url.Error{Op: "Post", URL: "http://terminal", Err: &net.OpError{Op: "dial", Net: "tcp", Err: err}}
	}

	tests := []struct {
		name      string
		err       error
		kind      application.TerminalErrorKind
		code      string
		retryable bool
	}{
		{"refused", wrap(syscall.ECONNREFUSED), application.TerminalNetwork, "ECONNREFUSED", true},
		{"host unreachable", wrap(syscall.EHOSTUNREACH), application.TerminalNetwork, "EHOSTUNREACH", true},
		{"net unreachable", wrap(syscall.ENETUNREACH), application.TerminalNetwork, "ENETUNREACH", true},
		{"dns not found", wrap(&net.DNSError{Err: "no such host", Name: "terminal", IsNotFound: true}), application.TerminalNetwork, "DNS", false},
		{"dns timeout", wrap(&net.DNSError{Err: "timeout", Name: "terminal", IsTimeout: true}), application.TerminalNetwork, "DNS", true},
		{"deadline", context.DeadlineExceeded, application.TerminalTimeout, "", true},
		{"other", errors.New("weird"), application.TerminalNetwork, "NETWORK", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			termErr := classifyTransportError(tt.err)
			assert.Equal(t, tt.kind, termErr.Kind)
			assert.Equal(t, tt.code, termErr.Code)
			assert.Equal(t, tt.retryable, termErr.Retryable)
		})
	}
}
