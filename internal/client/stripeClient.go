package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lostnfound-shop/internal/apperr"
	"lostnfound-shop/internal/config"
	"lostnfound-shop/internal/model"
)

// webhookTolerance bounds how old a signed webhook timestamp may be before
// the event is rejected as a possible replay.
const webhookTolerance = 5 * time.Minute

type stripeClientImpl struct {
	httpClient    *http.Client
	baseApiURL    string
	secretKey     string
	webhookSecret string
	now           func() time.Time
}

func NewStripeClient(cfg *config.Stripe) PaymentProvider {
	return &stripeClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL:    cfg.BaseApiURL,
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		now:           time.Now,
	}
}

func (c *stripeClientImpl) Name() string {
	return model.MethodStripe
}

func (c *stripeClientImpl) doForm(ctx context.Context, method, path string, form url.Values, out any) error {
	if c.secretKey == "" {
		return apperr.Config("stripe secret key not configured")
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseApiURL+path, body)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Transient("stripe api request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Transient("read stripe response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var stripeErr model.StripeError
		if json.Unmarshal(raw, &stripeErr) == nil && stripeErr.Error.Message != "" {
			return apperr.Transient(fmt.Sprintf("stripe error %d: %s", resp.StatusCode, stripeErr.Error.Message), nil)
		}
		return apperr.Transient(fmt.Sprintf("stripe error %d: %s", resp.StatusCode, string(raw)), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode stripe response: %w", err)
	}
	return nil
}

func (c *stripeClientImpl) CreateSession(ctx context.Context, sr *SessionRequest) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	// Stripe substitutes the session id into the redirect itself.
	form.Set("success_url", sr.SuccessURL+"?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", sr.CancelURL)
	form.Set("metadata[basket]", sr.BasketMeta)

	for i, line := range sr.Lines {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", strings.ToLower(sr.Currency))
		form.Set(prefix+"[price_data][product_data][name]", line.DisplayName)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(line.UnitPrice, 10))
		form.Set(prefix+"[quantity]", strconv.FormatInt(int64(line.Quantity), 10))
	}

	var session model.StripeCheckoutSession
	if err := c.doForm(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}

	if session.URL == "" {
		return nil, fmt.Errorf("stripe session %s has no redirect url", session.ID)
	}

	return &CheckoutSession{
		SessionID:   session.ID,
		RedirectURL: session.URL,
	}, nil
}

func (c *stripeClientImpl) FetchStatus(ctx context.Context, sessionID string) (*PaymentStatus, error) {
	var session model.StripeCheckoutSession
	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	if err := c.doForm(ctx, http.MethodGet, path, nil, &session); err != nil {
		return nil, err
	}
	return sessionToStatus(&session), nil
}

// Capture is a status fetch: Stripe checkout sessions capture on completion.
func (c *stripeClientImpl) Capture(ctx context.Context, sessionID string) (*PaymentStatus, error) {
	return c.FetchStatus(ctx, sessionID)
}

// VerifyWebhook checks the Stripe-Signature header: HMAC-SHA256 of
// "<timestamp>.<payload>" keyed by the shared webhook secret, with a
// bounded timestamp tolerance.
func (c *stripeClientImpl) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) error {
	if c.webhookSecret == "" {
		return apperr.Config("stripe webhook secret not configured")
	}

	header := headers.Get("Stripe-Signature")
	if header == "" {
		return apperr.Signature("missing Stripe-Signature header", nil)
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return apperr.Signature("malformed Stripe-Signature header", nil)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return apperr.Signature("malformed signature timestamp", err)
	}
	age := c.now().Sub(time.Unix(ts, 0))
	if age > webhookTolerance || age < -webhookTolerance {
		return apperr.Signature("webhook timestamp outside tolerance", nil)
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1 {
			return nil
		}
	}
	return apperr.Signature("stripe webhook signature mismatch", nil)
}

func (c *stripeClientImpl) DecodeEvent(body []byte) (*WebhookEvent, error) {
	var event model.StripeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode stripe webhook payload: %w", err)
	}

	out := &WebhookEvent{
		EventID:   event.ID,
		EventType: event.Type,
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		session := event.Data.Object
		if session.PaymentStatus != "paid" {
			// completed but unpaid (async methods); wait for the follow-up event
			return out, nil
		}
		out.Completed = true
		out.Status = *sessionToStatus(&session)
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		out.Failed = true
		out.Status = PaymentStatus{SessionID: event.Data.Object.ID}
	}

	return out, nil
}

func sessionToStatus(session *model.StripeCheckoutSession) *PaymentStatus {
	return &PaymentStatus{
		SessionID:       session.ID,
		Paid:            session.PaymentStatus == "paid",
		CaptureID:       session.PaymentIntent,
		AmountCollected: session.AmountTotal,
		BasketMeta:      session.Metadata["basket"],
	}
}
