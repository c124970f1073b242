package services

import (
	"context"
	"encoding/json"
	"fmt"

	razorpay "github.com/razorpay/razorpay-go"
)

// GatewayPayment is the slice of a gateway payment record the settlement
// pipeline cares about.
type GatewayPayment struct {
	ID     string
	Status string
	Raw    json.RawMessage
}

// GatewayRefund is the gateway's acknowledgement of an issued refund.
type GatewayRefund struct {
	ID     string
	Status string
	Raw    json.RawMessage
}

// PaymentGateway is the narrow surface the refund subsystem consumes. Every
// Refund call carries a caller-supplied idempotency key so a retried attempt
// after a network timeout cannot double-refund.
type PaymentGateway interface {
	FetchPayment(ctx context.Context, gatewayPaymentID string) (GatewayPayment, error)
	Refund(ctx context.Context, gatewayPaymentID string, amount int64, idempotencyKey string) (GatewayRefund, error)
}

// RazorpayGateway adapts the Razorpay SDK to PaymentGateway.
type RazorpayGateway struct {
	client *razorpay.Client
}

func NewRazorpayGateway(keyID, keySecret string) *RazorpayGateway {
	return &RazorpayGateway{client: razorpay.NewClient(keyID, keySecret)}
}

func (g *RazorpayGateway) FetchPayment(ctx context.Context, gatewayPaymentID string) (GatewayPayment, error) {
	body, err := g.client.Payment.Fetch(gatewayPaymentID, nil, nil)
	if err != nil {
		return GatewayPayment{}, fmt.Errorf("fetch payment %s: %w", gatewayPaymentID, err)
	}
	return GatewayPayment{
		ID:     stringField(body, "id"),
		Status: stringField(body, "status"),
		Raw:    marshalRaw(body),
	}, nil
}

func (g *RazorpayGateway) Refund(ctx context.Context, gatewayPaymentID string, amount int64, idempotencyKey string) (GatewayRefund, error) {
	data := map[string]interface{}{
		"speed": "normal",
	}
	headers := map[string]string{
		"X-Razorpay-Idempotency": idempotencyKey,
	}
	body, err := g.client.Payment.Refund(gatewayPaymentID, int(amount), data, headers)
	if err != nil {
		return GatewayRefund{}, fmt.Errorf("refund payment %s: %w", gatewayPaymentID, err)
	}
	return GatewayRefund{
		ID:     stringField(body, "id"),
		Status: stringField(body, "status"),
		Raw:    marshalRaw(body),
	}, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func marshalRaw(m map[string]interface{}) json.RawMessage {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return raw
}
