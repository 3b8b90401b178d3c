package client

import (
	"context"
	"net/http"

	"lostnfound-shop/internal/catalog"
)

// SessionRequest is everything a provider needs to open a hosted checkout.
// BasketMeta is the compact basket encoding carried in the provider's
// metadata field and echoed back on confirmation.
type SessionRequest struct {
	Lines      []catalog.LineItem
	Total      int64
	Currency   string
	BasketMeta string
	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	SessionID   string
	RedirectURL string
}

// PaymentStatus is the authoritative state of a session as reported by the
// provider itself, never by the user agent.
type PaymentStatus struct {
	SessionID       string
	Paid            bool
	CaptureID       string
	ReceiptURL      string
	AmountCollected int64
	BasketMeta      string
}

// WebhookEvent is a decoded, provider-agnostic webhook notification.
type WebhookEvent struct {
	EventID   string
	EventType string
	Completed bool // payment captured
	Failed    bool // session expired / capture denied
	Status    PaymentStatus
}

// PaymentProvider is the capability surface shared by Stripe and PayPal.
// VerifyWebhook must be called before DecodeEvent; unverified payloads are
// never parsed into state changes.
type PaymentProvider interface {
	Name() string
	CreateSession(ctx context.Context, req *SessionRequest) (*CheckoutSession, error)
	FetchStatus(ctx context.Context, sessionID string) (*PaymentStatus, error)
	// Capture settles an approved session. Providers that auto-capture treat
	// this as FetchStatus.
	Capture(ctx context.Context, sessionID string) (*PaymentStatus, error)
	VerifyWebhook(ctx context.Context, headers http.Header, body []byte) error
	DecodeEvent(body []byte) (*WebhookEvent, error)
}
