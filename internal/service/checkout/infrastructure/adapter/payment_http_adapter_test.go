package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"checkoutcore/internal/pkg/httpclient"
	"checkoutcore/internal/service/checkout/domain/port"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type gatewayStub struct {
	mu       sync.Mutex
	keys     []string
	paths    []string
	statuses map[string]int
}

func (g *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	g.keys = append(g.keys, r.Header.Get(idempotencyHeader))
	g.paths = append(g.paths, r.URL.Path)
	status := g.statuses[r.URL.Path]
	g.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status >= 300 {
		_ = json.NewEncoder(w).Encode(gatewayError{Message: "nope"})
		return
	}
	if r.URL.Path == "/authorizations" {
		var req authorizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(authorizeResponse{AuthorizationID: "auth-" + req.Instrument})
	}
}

func newTestAdapter(t *testing.T, stub *gatewayStub) *PaymentHTTPAdapter {
	t.Helper()
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	return NewPaymentHTTPAdapter(httpclient.NewClient(noop.NewTracerProvider().Tracer("test")), srv.URL+"/")
}

func TestPaymentHTTPAdapter_AuthorizeCaptureVoid(t *testing.T) {
	ctx := context.Background()
	stub := &gatewayStub{}
	a := newTestAdapter(t, stub)

	authID, err := a.Authorize(ctx, decimal.RequireFromString("12.50"), "tok", "o1:1")
	require.NoError(t, err)
	assert.Equal(t, "auth-tok", authID)
	require.NoError(t, a.Capture(ctx, authID, "o1:1"))
	require.NoError(t, a.Void(ctx, authID))

	assert.Equal(t, []string{"/authorizations", "/authorizations/auth-tok/capture", "/authorizations/auth-tok/void"}, stub.paths)
	assert.Equal(t, []string{"o1:1", "o1:1", ""}, stub.keys)
}

func TestPaymentHTTPAdapter_ClassifiesFailures(t *testing.T) {
	ctx := context.Background()
	stub := &gatewayStub{statuses: map[string]int{
		"/authorizations":            http.StatusPaymentRequired,
		"/authorizations/a1/capture": http.StatusBadGateway,
		"/authorizations/a2/capture": http.StatusUnprocessableEntity,
	}}
	a := newTestAdapter(t, stub)

	_, err := a.Authorize(ctx, decimal.NewFromInt(1), "tok", "o1:1")
	assert.ErrorIs(t, err, port.ErrPaymentDeclined)

	err = a.Capture(ctx, "a1", "o1:1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, port.ErrPaymentDeclined, "5xx leaves the outcome unknown")

	assert.ErrorIs(t, a.Capture(ctx, "a2", "o2:1"), port.ErrPaymentDeclined)
}

func TestPaymentHTTPAdapter_UnreachableIsAmbiguous(t *testing.T) {
	a := NewPaymentHTTPAdapter(httpclient.NewClient(noop.NewTracerProvider().Tracer("test")), "http://127.0.0.1:1")
	err := a.Capture(context.Background(), "a1", "o1:1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, port.ErrPaymentDeclined)
}
