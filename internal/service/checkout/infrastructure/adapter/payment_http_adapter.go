package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"checkoutcore/internal/pkg/httpclient"
	"checkoutcore/internal/service/checkout/domain/port"

	"github.com/shopspring/decimal"
)

const idempotencyHeader = "Idempotency-Key"

// PaymentHTTPAdapter 实现了 port.PaymentGateway，通过 HTTP 调用外部支付网关。
// 4xx 视为网关的明确拒绝；网络错误和 5xx 视为结果未知。
type PaymentHTTPAdapter struct {
	client  *httpclient.Client
	baseURL string
}

func NewPaymentHTTPAdapter(client *httpclient.Client, baseURL string) *PaymentHTTPAdapter {
	return &PaymentHTTPAdapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type authorizeRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Instrument string          `json:"instrument"`
}

type authorizeResponse struct {
	AuthorizationID string `json:"authorizationId"`
}

type gatewayError struct {
	Message string `json:"message"`
}

func (a *PaymentHTTPAdapter) Authorize(ctx context.Context, amount decimal.Decimal, instrument, idempotencyKey string) (string, error) {
	resp, err := a.client.PostJSON(ctx, a.baseURL+"/authorizations",
		authorizeRequest{Amount: amount, Instrument: instrument},
		map[string]string{idempotencyHeader: idempotencyKey})
	if err != nil {
		return "", err
	}
	if err := classify(resp, "authorize"); err != nil {
		return "", err
	}
	var out authorizeResponse
	if err := resp.Decode(&out); err != nil {
		return "", fmt.Errorf("decode authorization: %w", err)
	}
	if out.AuthorizationID == "" {
		return "", fmt.Errorf("gateway returned empty authorization id")
	}
	return out.AuthorizationID, nil
}

func (a *PaymentHTTPAdapter) Capture(ctx context.Context, authorizationID, idempotencyKey string) error {
	resp, err := a.client.PostJSON(ctx, a.authURL(authorizationID, "capture"), struct{}{},
		map[string]string{idempotencyHeader: idempotencyKey})
	if err != nil {
		return err
	}
	return classify(resp, "capture")
}

func (a *PaymentHTTPAdapter) Void(ctx context.Context, authorizationID string) error {
	resp, err := a.client.PostJSON(ctx, a.authURL(authorizationID, "void"), struct{}{}, nil)
	if err != nil {
		return err
	}
	return classify(resp, "void")
}

func (a *PaymentHTTPAdapter) authURL(authorizationID, action string) string {
	return fmt.Sprintf("%s/authorizations/%s/%s", a.baseURL, url.PathEscape(authorizationID), action)
}

func classify(resp *httpclient.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body gatewayError
	_ = resp.Decode(&body)
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%s: %w: status %d %s", op, port.ErrPaymentDeclined, resp.StatusCode, body.Message)
	}
	return fmt.Errorf("%s: gateway status %d %s", op, resp.StatusCode, body.Message)
}
