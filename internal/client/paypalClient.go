package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"lostnfound-shop/internal/apperr"
	"lostnfound-shop/internal/config"
	"lostnfound-shop/internal/model"
)

type paypalClientImpl struct {
	httpClient   *http.Client
	baseApiURL   string
	clientID     string
	clientSecret string
	webhookID    string
}

func NewPaypalClient(cfg *config.Paypal) PaymentProvider {
	return &paypalClientImpl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseApiURL:   cfg.BaseApiURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
	}
}

func (c *paypalClientImpl) Name() string {
	return model.MethodPaypal
}

func (c *paypalClientImpl) getAccessToken(ctx context.Context) (string, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return "", apperr.Config("paypal credentials not configured")
	}

	auth := base64.StdEncoding.EncodeToString(
		[]byte(c.clientID + ":" + c.clientSecret),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseApiURL+"/v1/oauth2/token",
		bytes.NewBufferString("grant_type=client_credentials"))
	if err != nil {
		return "", fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.Transient("paypal token request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", apperr.Transient(fmt.Sprintf("paypal token error %d: %s", resp.StatusCode, string(b)), nil)
	}

	var res struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode paypal token response: %w", err)
	}

	return res.AccessToken, nil
}

func (c *paypalClientImpl) doJSON(ctx context.Context, method, url string, payload any, out any) error {
	accessToken, err := c.getAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("get paypal access token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal req payload: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Transient("paypal api request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return apperr.Transient(fmt.Sprintf("paypal error %d: %s", resp.StatusCode, string(b)), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode paypal response: %w", err)
	}
	return nil
}

func (c *paypalClientImpl) CreateSession(ctx context.Context, sr *SessionRequest) (*CheckoutSession, error) {
	items := make([]map[string]interface{}, len(sr.Lines))
	for i, line := range sr.Lines {
		items[i] = map[string]interface{}{
			"name":     line.DisplayName,
			"sku":      line.ProductCode,
			"quantity": strconv.Itoa(int(line.Quantity)),
			"unit_amount": map[string]string{
				"currency_code": sr.Currency,
				"value":         minorToValue(line.UnitPrice),
			},
		}
	}

	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				// basket travels in custom_id so reconciliation can rebuild
				// the sale even when nothing was persisted at checkout time
				"custom_id": sr.BasketMeta,
				"items":     items,
				"amount": map[string]interface{}{
					"currency_code": sr.Currency,
					"value":         minorToValue(sr.Total),
					"breakdown": map[string]interface{}{
						"item_total": map[string]string{
							"currency_code": sr.Currency,
							"value":         minorToValue(sr.Total),
						},
					},
				},
			},
		},
		"application_context": map[string]string{
			"return_url": sr.SuccessURL,
			"cancel_url": sr.CancelURL,
		},
	}

	var result model.PaypalOrder
	err := c.doJSON(ctx, http.MethodPost, c.baseApiURL+"/v2/checkout/orders", payload, &result)
	if err != nil {
		return nil, err
	}

	approveURL := extractApproveURL(result.Links)
	if approveURL == "" {
		return nil, fmt.Errorf("paypal order %s has no approve link", result.ID)
	}

	return &CheckoutSession{
		SessionID:   result.ID,
		RedirectURL: approveURL,
	}, nil
}

func (c *paypalClientImpl) FetchStatus(ctx context.Context, sessionID string) (*PaymentStatus, error) {
	var order model.PaypalOrder
	url := fmt.Sprintf("%s/v2/checkout/orders/%s", c.baseApiURL, sessionID)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &order); err != nil {
		return nil, err
	}
	return orderToStatus(&order), nil
}

// Capture settles an approved order. PayPal does not capture on redirect,
// so the return callback has to call this explicitly.
func (c *paypalClientImpl) Capture(ctx context.Context, sessionID string) (*PaymentStatus, error) {
	var order model.PaypalOrder
	url := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", c.baseApiURL, sessionID)
	if err := c.doJSON(ctx, http.MethodPost, url, nil, &order); err != nil {
		return nil, err
	}
	return orderToStatus(&order), nil
}

func (c *paypalClientImpl) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) error {
	if c.webhookID == "" {
		return apperr.Config("paypal webhook id not configured")
	}

	var event json.RawMessage = body
	payload := map[string]interface{}{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        c.webhookID,
		"webhook_event":     event,
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	err := c.doJSON(ctx, http.MethodPost,
		c.baseApiURL+"/v1/notifications/verify-webhook-signature", payload, &result)
	if err != nil {
		return err
	}

	if result.VerificationStatus != "SUCCESS" {
		return apperr.Signature("paypal webhook signature verification failed", nil)
	}
	return nil
}

func (c *paypalClientImpl) DecodeEvent(body []byte) (*WebhookEvent, error) {
	var event model.PaypalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("decode paypal webhook payload: %w", err)
	}

	out := &WebhookEvent{
		EventID:   event.ID,
		EventType: event.EventType,
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		orderID := event.Resource.SupplementaryData.RelatedIDs.OrderID
		if orderID == "" {
			return nil, fmt.Errorf("could not find order_id in webhook payload")
		}
		out.Completed = true
		out.Status = PaymentStatus{
			SessionID:       orderID,
			Paid:            true,
			CaptureID:       event.Resource.ID,
			AmountCollected: valueToMinor(event.Resource.Amount.Value),
			BasketMeta:      event.Resource.CustomID,
		}
	case "PAYMENT.CAPTURE.DENIED":
		out.Failed = true
		out.Status = PaymentStatus{
			SessionID: event.Resource.SupplementaryData.RelatedIDs.OrderID,
		}
	}

	return out, nil
}

func orderToStatus(order *model.PaypalOrder) *PaymentStatus {
	status := &PaymentStatus{
		SessionID: order.ID,
		Paid:      order.Status == "COMPLETED",
	}
	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		status.BasketMeta = unit.CustomID
		status.AmountCollected = valueToMinor(unit.Amount.Value)
		if len(unit.Payments.Captures) > 0 {
			capture := unit.Payments.Captures[0]
			status.CaptureID = capture.ID
			if capture.Amount.Value != "" {
				status.AmountCollected = valueToMinor(capture.Amount.Value)
			}
			if capture.CustomID != "" {
				status.BasketMeta = capture.CustomID
			}
		}
	}
	return status
}

func extractApproveURL(links []model.PaypalLink) string {
	for _, link := range links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}
