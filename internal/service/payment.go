package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"lostnfound-shop/internal/apperr"
	"lostnfound-shop/internal/catalog"
	"lostnfound-shop/internal/client"
	"lostnfound-shop/internal/dto"
	"lostnfound-shop/internal/model"
	"lostnfound-shop/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const currency = "USD"

type PaymentService interface {
	// Checkout prices the basket and opens a hosted provider session. No
	// ledger entry is written here: a session the buyer abandons should not
	// surface as a pending sale.
	Checkout(ctx context.Context, providerName string, lines []catalog.BasketLine) (*dto.CheckoutResponse, error)
	// ConfirmReturn handles the buyer's redirect back from the provider. The
	// session status is fetched from the provider itself; query parameters
	// are trusted only for the session identifier.
	ConfirmReturn(ctx context.Context, providerName, sessionID string) (string, error)
	HandleWebhook(ctx context.Context, providerName string, headers http.Header, body []byte) error
	Receipt(ctx context.Context, saleID string) (*dto.Receipt, error)
	// CreateSale records a manual/no-provider sale eagerly, status created.
	CreateSale(ctx context.Context, req *dto.CreateSaleRequest) (*dto.CreateSaleResponse, error)
	RecentSales(ctx context.Context, limit int) ([]*dto.SaleSummary, error)
}

type paymentServiceImpl struct {
	db               *gorm.DB
	catalog          *catalog.Catalog
	providers        map[string]client.PaymentProvider
	serviceBaseURL   string
	saleRepo         repository.SaleRepository
	webhookEventRepo repository.WebhookEventRepository
}

func NewPaymentService(
	db *gorm.DB,
	cat *catalog.Catalog,
	serviceBaseURL string,
	saleRepo repository.SaleRepository,
	webhookEventRepo repository.WebhookEventRepository,
	providers ...client.PaymentProvider,
) PaymentService {
	byName := make(map[string]client.PaymentProvider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &paymentServiceImpl{
		db:               db,
		catalog:          cat,
		providers:        byName,
		serviceBaseURL:   serviceBaseURL,
		saleRepo:         saleRepo,
		webhookEventRepo: webhookEventRepo,
	}
}

func (s *paymentServiceImpl) providerFor(name string) (client.PaymentProvider, error) {
	p, ok := s.providers[name]
	if !ok {
		return nil, apperr.Validation("unknown payment provider: %s", name)
	}
	return p, nil
}

func (s *paymentServiceImpl) Checkout(ctx context.Context, providerName string, lines []catalog.BasketLine) (*dto.CheckoutResponse, error) {
	p, err := s.providerFor(providerName)
	if err != nil {
		return nil, err
	}

	priced, total, err := s.catalog.PriceBasket(lines)
	if err != nil {
		return nil, err
	}

	session, err := p.CreateSession(ctx, &client.SessionRequest{
		Lines:      priced,
		Total:      total,
		Currency:   currency,
		BasketMeta: catalog.EncodeBasket(lines),
		SuccessURL: fmt.Sprintf("%s/api/checkout/%s/success", s.serviceBaseURL, p.Name()),
		CancelURL:  s.serviceBaseURL + "/shop?payment=cancelled",
	})
	if err != nil {
		return nil, fmt.Errorf("create %s checkout session: %w", p.Name(), err)
	}

	log.Info().
		Str("provider", p.Name()).
		Str("session_id", session.SessionID).
		Int64("total", total).
		Msg("checkout session created")

	return &dto.CheckoutResponse{URL: session.RedirectURL}, nil
}

func (s *paymentServiceImpl) ConfirmReturn(ctx context.Context, providerName, sessionID string) (string, error) {
	p, err := s.providerFor(providerName)
	if err != nil {
		return "", err
	}
	if sessionID == "" {
		return "", apperr.Validation("missing session identifier")
	}

	status, err := p.Capture(ctx, sessionID)
	if err != nil {
		// A replayed callback may hit an already-captured session; the
		// authoritative status settles it.
		fetched, fetchErr := p.FetchStatus(ctx, sessionID)
		if fetchErr != nil || !fetched.Paid {
			return "", fmt.Errorf("capture %s session: %w", p.Name(), err)
		}
		status = fetched
	}

	if !status.Paid {
		return "", apperr.Transient("payment not completed", nil)
	}

	return s.reconcile(ctx, p.Name(), status)
}

func (s *paymentServiceImpl) HandleWebhook(ctx context.Context, providerName string, headers http.Header, body []byte) error {
	p, err := s.providerFor(providerName)
	if err != nil {
		return err
	}

	// Signature first; an unverified payload is never parsed into state.
	if err := p.VerifyWebhook(ctx, headers, body); err != nil {
		return err
	}

	event, err := p.DecodeEvent(body)
	if err != nil {
		return apperr.Validation("undecodable webhook payload: %v", err)
	}

	if event.EventID != "" {
		seen, err := s.webhookEventRepo.Exists(ctx, event.EventID)
		if err != nil {
			return fmt.Errorf("check webhook event: %w", err)
		}
		if seen {
			log.Info().
				Str("provider", p.Name()).
				Str("event_id", event.EventID).
				Msg("webhook event already processed, skipping")
			return nil
		}
	}

	switch {
	case event.Completed:
		if _, err := s.reconcile(ctx, p.Name(), &event.Status); err != nil {
			return err
		}
	case event.Failed:
		if err := s.markFailed(ctx, event.Status.SessionID); err != nil {
			return err
		}
	default:
		log.Debug().
			Str("provider", p.Name()).
			Str("event_type", event.EventType).
			Msg("ignoring webhook event type")
	}

	if event.EventID != "" {
		if err := s.webhookEventRepo.MarkProcessed(ctx, p.Name(), event.EventID, event.EventType); err != nil {
			return fmt.Errorf("mark webhook event processed: %w", err)
		}
	}
	return nil
}

// reconcile advances the sale for one provider session to paid exactly once.
// The return callback and the webhook both funnel through here, in either
// order, any number of times; the storage guards serialize them.
func (s *paymentServiceImpl) reconcile(ctx context.Context, method string, status *client.PaymentStatus) (string, error) {
	if status.SessionID == "" {
		return "", apperr.Validation("payment confirmation without session identifier")
	}

	var updated bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		updated, err = s.saleRepo.MarkPaid(ctx, tx, status.SessionID, status.CaptureID, status.ReceiptURL)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("mark sale paid: %w", err)
	}

	sale, err := s.saleRepo.FindBySessionID(ctx, status.SessionID)
	if err != nil {
		return "", fmt.Errorf("find sale by session: %w", err)
	}
	if sale != nil {
		if updated {
			log.Info().
				Str("provider", method).
				Str("sale_id", sale.ID).
				Str("capture_id", status.CaptureID).
				Msg("sale marked paid")
		} else {
			log.Info().
				Str("provider", method).
				Str("sale_id", sale.ID).
				Msg("sale already paid, idempotent replay")
		}
		return sale.ID, nil
	}

	// No ledger entry: checkout deliberately does not pre-create one. Rebuild
	// the basket from provider metadata and record the sale directly as paid.
	sale, items := s.materialize(method, status)
	var inserted bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		inserted, err = s.saleRepo.CreatePaid(ctx, tx, sale, items)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create paid sale: %w", err)
	}
	if !inserted {
		// Lost the insert race to a concurrent confirmation; that row wins.
		existing, err := s.saleRepo.FindBySessionID(ctx, status.SessionID)
		if err != nil {
			return "", fmt.Errorf("find sale after insert race: %w", err)
		}
		if existing == nil {
			return "", fmt.Errorf("sale for session %s vanished after insert race", status.SessionID)
		}
		return existing.ID, nil
	}

	log.Info().
		Str("provider", method).
		Str("sale_id", sale.ID).
		Str("session_id", status.SessionID).
		Int64("total", sale.TotalAmount).
		Msg("sale materialized from payment confirmation")
	return sale.ID, nil
}

// materialize builds a paid sale from a verified provider confirmation.
// Line items are re-priced against the catalog; only the collected total is
// taken from the provider. An undecodable basket still yields a paid sale,
// with zero items, so the payment acknowledgment is never lost.
func (s *paymentServiceImpl) materialize(method string, status *client.PaymentStatus) (*model.Sale, []*model.SaleItem) {
	sale := &model.Sale{
		ID:                uuid.NewString(),
		Status:            model.StatusPaid,
		PaymentMethod:     method,
		ProviderSessionID: status.SessionID,
		ProviderCaptureID: status.CaptureID,
		ReceiptURL:        status.ReceiptURL,
	}

	lines, err := catalog.DecodeBasket(status.BasketMeta)
	var priced []catalog.LineItem
	var total int64
	if err == nil {
		priced, total, err = s.catalog.PriceBasket(lines)
	}
	if err != nil {
		log.Warn().
			Str("provider", method).
			Str("session_id", status.SessionID).
			Err(err).
			Msg("basket metadata unusable, recording paid sale without line items")
		sale.TotalAmount = status.AmountCollected
		return sale, nil
	}

	if status.AmountCollected != 0 && status.AmountCollected != total {
		log.Warn().
			Str("provider", method).
			Str("session_id", status.SessionID).
			Int64("priced_total", total).
			Int64("collected", status.AmountCollected).
			Msg("collected amount differs from catalog-priced total")
	}

	sale.TotalAmount = total
	sale.ItemCount = int32(len(priced))
	items := make([]*model.SaleItem, len(priced))
	for i, line := range priced {
		items[i] = &model.SaleItem{
			SaleID:      sale.ID,
			ProductCode: line.ProductCode,
			DisplayName: line.DisplayName,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			LineTotal:   line.LineTotal,
		}
	}
	return sale, items
}

func (s *paymentServiceImpl) markFailed(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated, err := s.saleRepo.MarkFailed(ctx, tx, sessionID)
		if err != nil {
			return fmt.Errorf("mark sale failed: %w", err)
		}
		if updated {
			log.Info().Str("session_id", sessionID).Msg("sale marked failed")
		}
		return nil
	})
}

func (s *paymentServiceImpl) Receipt(ctx context.Context, saleID string) (*dto.Receipt, error) {
	sale, err := s.saleRepo.FindByID(ctx, saleID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("sale not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find sale: %w", err)
	}

	items, err := s.saleRepo.GetItems(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("get sale items: %w", err)
	}

	receipt := &dto.Receipt{
		SaleID:        sale.ID,
		Status:        sale.Status,
		PaymentMethod: sale.PaymentMethod,
		Total:         formatMinor(sale.TotalAmount),
		ReceiptURL:    sale.ReceiptURL,
		CreatedAt:     sale.CreatedAt.Format(time.RFC3339),
		Lines:         make([]dto.ReceiptLine, len(items)),
	}
	for i, item := range items {
		receipt.Lines[i] = dto.ReceiptLine{
			ProductCode: item.ProductCode,
			DisplayName: item.DisplayName,
			UnitPrice:   formatMinor(item.UnitPrice),
			Quantity:    item.Quantity,
			LineTotal:   formatMinor(item.LineTotal),
		}
	}
	return receipt, nil
}

func (s *paymentServiceImpl) CreateSale(ctx context.Context, req *dto.CreateSaleRequest) (*dto.CreateSaleResponse, error) {
	switch req.PaymentMethod {
	case "", model.MethodStripe, model.MethodPaypal:
	default:
		return nil, apperr.Validation("unknown payment method: %s", req.PaymentMethod)
	}

	priced, total, err := s.catalog.PriceBasket(req.Items)
	if err != nil {
		return nil, err
	}

	sale := &model.Sale{
		ID:            uuid.NewString(),
		Status:        model.StatusCreated,
		PaymentMethod: req.PaymentMethod,
		TotalAmount:   total,
		ItemCount:     int32(len(priced)),
	}
	items := make([]*model.SaleItem, len(priced))
	for i, line := range priced {
		items[i] = &model.SaleItem{
			SaleID:      sale.ID,
			ProductCode: line.ProductCode,
			DisplayName: line.DisplayName,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
			LineTotal:   line.LineTotal,
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.saleRepo.Create(ctx, tx, sale, items)
	})
	if err != nil {
		return nil, fmt.Errorf("store sale: %w", err)
	}

	return &dto.CreateSaleResponse{Success: true, SaleID: sale.ID}, nil
}

func (s *paymentServiceImpl) RecentSales(ctx context.Context, limit int) ([]*dto.SaleSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	sales, err := s.saleRepo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent sales: %w", err)
	}

	out := make([]*dto.SaleSummary, len(sales))
	for i, sale := range sales {
		out[i] = &dto.SaleSummary{
			SaleID:        sale.ID,
			Status:        sale.Status,
			PaymentMethod: sale.PaymentMethod,
			Total:         formatMinor(sale.TotalAmount),
			ItemCount:     sale.ItemCount,
			CreatedAt:     sale.CreatedAt.Format(time.RFC3339),
		}
	}
	return out, nil
}

func formatMinor(minor int64) string {
	return decimal.NewFromInt(minor).Shift(-2).StringFixed(2)
}
