package handler

import (
	"bytes"
	"html/template"
	"io"
	"net/http"

	"lostnfound-shop/internal/apperr"
	"lostnfound-shop/internal/dto"
	"lostnfound-shop/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type PaymentHandler struct {
	paymentService service.PaymentService
}

func NewPaymentHandler(paymentService service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

func errorJSON(c echo.Context, err error) error {
	code := apperr.StatusCode(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		return c.JSON(code, map[string]string{"error": "something went wrong"})
	}
	return c.JSON(code, map[string]string{"error": err.Error()})
}

// Checkout prices the basket and responds with the provider's hosted
// checkout URL. POST /api/checkout/:provider {items:[{product_code, qty}]}
func (h *PaymentHandler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()
	provider := c.Param("provider")

	var req dto.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	resp, err := h.paymentService.Checkout(ctx, provider, req.Items)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// ConfirmReturn handles the buyer's redirect back from the hosted checkout.
// Stripe sends ?session_id=, PayPal sends ?token=.
func (h *PaymentHandler) ConfirmReturn(c echo.Context) error {
	ctx := c.Request().Context()
	provider := c.Param("provider")

	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		sessionID = c.QueryParam("token")
	}

	saleID, err := h.paymentService.ConfirmReturn(ctx, provider, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("provider", provider).Msg("return callback failed")
		return c.Redirect(http.StatusFound, "/shop?payment=error")
	}

	return c.Redirect(http.StatusFound, "/receipt/"+saleID)
}

// Webhook receives provider-signed payment events. The provider retries on
// any non-2xx, so transient failures must not be acknowledged.
func (h *PaymentHandler) Webhook(c echo.Context) error {
	ctx := c.Request().Context()
	provider := c.Param("provider")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	err = h.paymentService.HandleWebhook(ctx, provider, c.Request().Header, body)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindSignature, apperr.KindValidation:
			log.Warn().Err(err).Str("provider", provider).Msg("webhook rejected")
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid webhook"})
		case apperr.KindConfig:
			log.Error().Err(err).Str("provider", provider).Msg("webhook misconfigured")
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "webhook not configured"})
		default:
			log.Error().Err(err).Str("provider", provider).Msg("webhook processing failed")
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "processing failed"})
		}
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// Receipt renders a stored sale for the buyer. Unknown ids redirect to the
// shop rather than erroring.
func (h *PaymentHandler) Receipt(c echo.Context) error {
	ctx := c.Request().Context()

	receipt, err := h.paymentService.Receipt(ctx, c.Param("id"))
	if err != nil {
		if apperr.KindOf(err) != apperr.KindNotFound {
			log.Error().Err(err).Msg("load receipt")
		}
		return c.Redirect(http.StatusFound, "/shop?receipt=notfound")
	}

	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, receipt); err != nil {
		log.Error().Err(err).Msg("render receipt")
		return c.Redirect(http.StatusFound, "/shop?receipt=notfound")
	}
	return c.HTML(http.StatusOK, buf.String())
}

// ReceiptJSON is the API projection of the same sale.
func (h *PaymentHandler) ReceiptJSON(c echo.Context) error {
	ctx := c.Request().Context()

	receipt, err := h.paymentService.Receipt(ctx, c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, receipt)
}

// CreateSale records a manual sale eagerly. POST /api/sales
func (h *PaymentHandler) CreateSale(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CreateSaleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(req.Items) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": "Missing basket info",
		})
	}

	resp, err := h.paymentService.CreateSale(ctx, &req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *PaymentHandler) RecentSales(c echo.Context) error {
	ctx := c.Request().Context()

	sales, err := h.paymentService.RecentSales(ctx, 20)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, sales)
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>Receipt</title>
	<style>
		body { font-family: Arial, sans-serif; margin: 60px auto; max-width: 560px; }
		table { width: 100%; border-collapse: collapse; }
		th, td { text-align: left; padding: 6px 4px; border-bottom: 1px solid #ddd; }
		.total { font-weight: bold; }
		.status { text-transform: uppercase; color: #2a7a2a; }
	</style>
</head>
<body>
	<h2>Lost&amp;Found Shop Receipt</h2>
	<p>Order <code>{{.SaleID}}</code> &mdash; <span class="status">{{.Status}}</span></p>
	<table>
		<tr><th>Item</th><th>Qty</th><th>Unit</th><th>Total</th></tr>
		{{range .Lines}}
		<tr><td>{{.DisplayName}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.LineTotal}}</td></tr>
		{{end}}
		<tr class="total"><td colspan="3">Total</td><td>{{.Total}}</td></tr>
	</table>
	{{if .ReceiptURL}}<p><a href="{{.ReceiptURL}}">Provider receipt</a></p>{{end}}
	<p><a href="/shop">Back to shop</a></p>
</body>
</html>
`))
