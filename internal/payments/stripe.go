package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"
)

var ErrNotConfigured = errors.New("card payments are not configured")

type IntentRequest struct {
	AmountCents  int64
	Currency     string
	Description  string
	ReceiptEmail string
	Metadata     map[string]string
}

type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Livemode     bool   `json:"livemode"`
	AmountCents  int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// IntentCreator creates card payment intents with the provider.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

// ProviderError carries the provider's own message for the caller.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return "stripe: " + e.Message
	}
	return fmt.Sprintf("stripe: %s (%s)", e.Message, e.Code)
}

type StripeClient struct {
	intents *paymentintent.Client
}

func NewStripeClient(secretKey string) *StripeClient {
	if secretKey == "" {
		return &StripeClient{}
	}
	return &StripeClient{
		intents: &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
	}
}

func (c *StripeClient) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if c.intents == nil {
		return nil, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := c.intents.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) {
			return nil, &ProviderError{Code: string(serr.Code), Message: serr.Msg}
		}
		return nil, &ProviderError{Message: err.Error()}
	}
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Livemode:     pi.Livemode,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

// Event types acted on by the webhook handler.
const (
	EventPaymentIntentSucceeded   = "payment_intent.succeeded"
	EventPaymentIntentFailed      = "payment_intent.payment_failed"
	EventCheckoutSessionCompleted = "checkout.session.completed"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type WebhookEvent struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// WebhookVerifier authenticates a raw webhook delivery.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

type StripeWebhookVerifier struct {
	secret string
}

func NewStripeWebhookVerifier(secret string) *StripeWebhookVerifier {
	return &StripeWebhookVerifier{secret: secret}
}

func (v *StripeWebhookVerifier) Verify(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	if v.secret == "" || signatureHeader == "" {
		return nil, ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}
	return &WebhookEvent{ID: event.ID, Type: string(event.Type), Object: raw}, nil
}

// PaymentIntentObject is the part of a payment intent webhook object the
// handler uses.
type PaymentIntentObject struct {
	ID          string
	AmountCents int64
	Currency    string
	Status      string
	Metadata    map[string]string
	FailureMsg  string
}

func DecodePaymentIntent(raw json.RawMessage) (*PaymentIntentObject, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	if pi.ID == "" {
		return nil, fmt.Errorf("decode payment intent: missing id")
	}
	out := &PaymentIntentObject{
		ID:          pi.ID,
		AmountCents: pi.Amount,
		Currency:    string(pi.Currency),
		Status:      string(pi.Status),
		Metadata:    pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		out.FailureMsg = pi.LastPaymentError.Msg
	}
	return out, nil
}

type CheckoutSessionObject struct {
	ID              string
	PaymentIntentID string
	Metadata        map[string]string
}

func DecodeCheckoutSession(raw json.RawMessage) (*CheckoutSessionObject, error) {
	var s stripe.CheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("decode checkout session: missing id")
	}
	out := &CheckoutSessionObject{ID: s.ID, Metadata: s.Metadata}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out, nil
}
