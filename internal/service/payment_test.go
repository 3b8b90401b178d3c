package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"lostnfound-shop/internal/apperr"
	"lostnfound-shop/internal/catalog"
	"lostnfound-shop/internal/client"
	"lostnfound-shop/internal/dto"
	"lostnfound-shop/internal/model"
	"lostnfound-shop/internal/repository"
	"lostnfound-shop/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type mockProvider struct {
	name              string
	createSessionFunc func(ctx context.Context, req *client.SessionRequest) (*client.CheckoutSession, error)
	fetchStatusFunc   func(ctx context.Context, sessionID string) (*client.PaymentStatus, error)
	captureFunc       func(ctx context.Context, sessionID string) (*client.PaymentStatus, error)
	verifyWebhookFunc func(ctx context.Context, headers http.Header, body []byte) error
	decodeEventFunc   func(body []byte) (*client.WebhookEvent, error)
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) CreateSession(ctx context.Context, req *client.SessionRequest) (*client.CheckoutSession, error) {
	return m.createSessionFunc(ctx, req)
}

func (m *mockProvider) FetchStatus(ctx context.Context, sessionID string) (*client.PaymentStatus, error) {
	return m.fetchStatusFunc(ctx, sessionID)
}

func (m *mockProvider) Capture(ctx context.Context, sessionID string) (*client.PaymentStatus, error) {
	return m.captureFunc(ctx, sessionID)
}

func (m *mockProvider) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) error {
	if m.verifyWebhookFunc != nil {
		return m.verifyWebhookFunc(ctx, headers, body)
	}
	return nil
}

func (m *mockProvider) DecodeEvent(body []byte) (*client.WebhookEvent, error) {
	return m.decodeEventFunc(body)
}

type fixture struct {
	db       *gorm.DB
	svc      service.PaymentService
	saleRepo repository.SaleRepository
	provider *mockProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Sale{}, &model.SaleItem{}, &model.WebhookEvent{}))

	provider := &mockProvider{name: model.MethodStripe}
	saleRepo := repository.NewSaleRepository(db)
	svc := service.NewPaymentService(
		db, catalog.Default(), "http://localhost:4000",
		saleRepo,
		repository.NewWebhookEventRepository(db),
		provider,
	)
	return &fixture{db: db, svc: svc, saleRepo: saleRepo, provider: provider}
}

func (f *fixture) saleCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&model.Sale{}).Count(&count).Error)
	return count
}

func paidEvent(eventID, sessionID, captureID, basket string, amount int64) *client.WebhookEvent {
	return &client.WebhookEvent{
		EventID:   eventID,
		EventType: "checkout.session.completed",
		Completed: true,
		Status: client.PaymentStatus{
			SessionID:       sessionID,
			Paid:            true,
			CaptureID:       captureID,
			AmountCollected: amount,
			BasketMeta:      basket,
		},
	}
}

func TestCheckout_PricesAgainstCatalog(t *testing.T) {
	f := newFixture(t)

	var got *client.SessionRequest
	f.provider.createSessionFunc = func(ctx context.Context, req *client.SessionRequest) (*client.CheckoutSession, error) {
		got = req
		return &client.CheckoutSession{SessionID: "cs_1", RedirectURL: "https://pay.example/cs_1"}, nil
	}

	resp, err := f.svc.Checkout(context.Background(), "stripe", []catalog.BasketLine{
		{ProductCode: "mug", Quantity: 2},
		{ProductCode: "shirt", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/cs_1", resp.URL)

	require.NotNil(t, got)
	assert.Equal(t, int64(4400), got.Total)
	assert.Equal(t, "mug:2,shirt:1", got.BasketMeta)
	require.Len(t, got.Lines, 2)
	assert.Equal(t, int64(1200), got.Lines[0].UnitPrice)

	// checkout never writes the ledger
	assert.Equal(t, int64(0), f.saleCount(t))
}

func TestCheckout_InvalidBasket(t *testing.T) {
	f := newFixture(t)
	f.provider.createSessionFunc = func(ctx context.Context, req *client.SessionRequest) (*client.CheckoutSession, error) {
		t.Fatal("provider must not be called for an invalid basket")
		return nil, nil
	}

	tests := []struct {
		name  string
		lines []catalog.BasketLine
	}{
		{name: "unknown_code", lines: []catalog.BasketLine{{ProductCode: "sticker", Quantity: 1}}},
		{name: "zero_quantity", lines: []catalog.BasketLine{{ProductCode: "mug", Quantity: 0}}},
		{name: "empty_basket", lines: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), "stripe", tt.lines)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, int64(0), f.saleCount(t))
		})
	}
}

func TestCheckout_UnknownProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Checkout(context.Background(), "braintree", []catalog.BasketLine{{ProductCode: "mug", Quantity: 1}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestHandleWebhook_LazyMaterialization(t *testing.T) {
	f := newFixture(t)
	f.provider.decodeEventFunc = func(body []byte) (*client.WebhookEvent, error) {
		return paidEvent("evt_1", "cs_1", "pi_1", "mug:2,shirt:1", 4400), nil
	}

	err := f.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte("{}"))
	require.NoError(t, err)

	sale, err := f.saleRepo.FindBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, model.StatusPaid, sale.Status)
	assert.Equal(t, "pi_1", sale.ProviderCaptureID)
	assert.Equal(t, int64(4400), sale.TotalAmount)
	assert.Equal(t, int32(2), sale.ItemCount)

	items, err := f.saleRepo.GetItems(context.Background(), sale.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(2400), items[0].LineTotal)
	assert.Equal(t, int64(2000), items[1].LineTotal)
}

func TestHandleWebhook_DuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.provider.decodeEventFunc = func(body []byte) (*client.WebhookEvent, error) {
		return paidEvent("evt_1", "cs_1", "pi_1", "mug:2", 2400), nil
	}

	require.NoError(t, f.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte("{}")))
	require.NoError(t, f.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte("{}")))

	assert.Equal(t, int64(1), f.saleCount(t))
	sale, err := f.saleRepo.FindBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "pi_1", sale.ProviderCaptureID)
}

func TestHandleWebhook_SameSessionDifferentEventID(t *testing.T) {
	f := newFixture(t)

	// redelivery with a fresh event id still collapses onto one paid sale
	eventID := "evt_1"
	f.provider.decodeEventFunc = func(body []byte) (*client.WebhookEvent, error) {
		return paidEvent(eventID, "cs_1", "pi_1", "mug:2", 2400), nil
	}

	require.NoError(t, f.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte("{}")))
	eventID = "evt_2"
	require.NoError(t, f.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte("{}")))

	assert.Equal(t, int64(1), f.saleCount(t))
	sale, err := f.saleRepo.FindBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, sale.Status)
	assert.Equal(t, "pi_1", sale.ProviderCaptureID)
}

func TestHandleWebhook_BadSignatureChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.provider.verifyWebhookFunc = func(ctx context.Context, headers http.Header, body []byte) error {
		return apperr.Signature("signature mismatch", nil)
	}
	f.provider.decodeEventFunc = func(body []byte) (*client.WebhookEvent, error) {
		t.Fatal("payload must not be decoded when the signature fails")
		return nil, nil
	}

	err := f.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte(`{"claims":"paid"}`))
	require.Error(t, err)
	assert.Equal(t, apperr.KindSignature, apperr.KindOf(err))
	assert.Equal(t, int64(0), f.saleCount(t))
}

func TestHandleWebhook_MalformedBasketMetadata(t *testing.T) {
	f := newFixture(t)
	f.provider.decodeEventFunc = func(body []byte) (*client.WebhookEvent, error) {
		return paidEvent("evt_1", "cs_1", "pi_1", "not a basket", 4400), nil
	}

	// payment acknowledgment must not be lost over broken metadata
	require.NoError(t, f.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte("{}")))

	sale, err := f.saleRepo.FindBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, model.StatusPaid, sale.Status)
	assert.Equal(t, int64(4400), sale.TotalAmount) // collected amount, items unknown
	assert.Equal(t, int32(0), sale.ItemCount)

	items, err := f.saleRepo.GetItems(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestConfirmReturn_ThenWebhook(t *testing.T) {
	f := newFixture(t)
	status := &client.PaymentStatus{
		SessionID: "cs_1", Paid: true, CaptureID: "pi_1",
		BasketMeta: "mug:2,shirt:1", AmountCollected: 4400,
	}
	f.provider.captureFunc = func(ctx context.Context, sessionID string) (*client.PaymentStatus, error) {
		return status, nil
	}
	f.provider.decodeEventFunc = func(body []byte) (*client.WebhookEvent, error) {
		return paidEvent("evt_1", "cs_1", "pi_1", "mug:2,shirt:1", 4400), nil
	}

	saleID, err := f.svc.ConfirmReturn(context.Background(), "stripe", "cs_1")
	require.NoError(t, err)
	require.NotEmpty(t, saleID)

	require.NoError(t, f.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte("{}")))

	assert.Equal(t, int64(1), f.saleCount(t))
	sale, err := f.saleRepo.FindByID(context.Background(), saleID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, sale.Status)
	assert.Equal(t, int64(4400), sale.TotalAmount)
}

func TestWebhook_ThenConfirmReturn(t *testing.T) {
	f := newFixture(t)
	f.provider.decodeEventFunc = func(body []byte) (*client.WebhookEvent, error) {
		return paidEvent("evt_1", "cs_1", "pi_1", "mug:2,shirt:1", 4400), nil
	}
	f.provider.captureFunc = func(ctx context.Context, sessionID string) (*client.PaymentStatus, error) {
		return &client.PaymentStatus{
			SessionID: "cs_1", Paid: true, CaptureID: "pi_1",
			BasketMeta: "mug:2,shirt:1", AmountCollected: 4400,
		}, nil
	}

	require.NoError(t, f.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte("{}")))

	saleID, err := f.svc.ConfirmReturn(context.Background(), "stripe", "cs_1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.saleCount(t))
	sale, err := f.saleRepo.FindByID(context.Background(), saleID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, sale.Status)
	assert.Equal(t, "pi_1", sale.ProviderCaptureID)
}

func TestConfirmReturn_CaptureFailsButAlreadyPaid(t *testing.T) {
	f := newFixture(t)
	f.provider.captureFunc = func(ctx context.Context, sessionID string) (*client.PaymentStatus, error) {
		return nil, apperr.Transient("order already captured", nil)
	}
	f.provider.fetchStatusFunc = func(ctx context.Context, sessionID string) (*client.PaymentStatus, error) {
		return &client.PaymentStatus{
			SessionID: sessionID, Paid: true, CaptureID: "pi_1", BasketMeta: "mug:1", AmountCollected: 1200,
		}, nil
	}

	saleID, err := f.svc.ConfirmReturn(context.Background(), "stripe", "cs_1")
	require.NoError(t, err)
	require.NotEmpty(t, saleID)
}

func TestConfirmReturn_TransientProviderError(t *testing.T) {
	f := newFixture(t)
	f.provider.captureFunc = func(ctx context.Context, sessionID string) (*client.PaymentStatus, error) {
		return nil, apperr.Transient("provider timeout", errors.New("deadline exceeded"))
	}
	f.provider.fetchStatusFunc = func(ctx context.Context, sessionID string) (*client.PaymentStatus, error) {
		return nil, apperr.Transient("provider timeout", errors.New("deadline exceeded"))
	}

	_, err := f.svc.ConfirmReturn(context.Background(), "stripe", "cs_1")
	require.Error(t, err)
	// never silently marked paid
	assert.Equal(t, int64(0), f.saleCount(t))
}

func TestHandleWebhook_FailureEvent(t *testing.T) {
	f := newFixture(t)

	// seed a pending sale for the session
	sale := &model.Sale{
		ID: uuid.NewString(), Status: model.StatusPending,
		PaymentMethod: model.MethodStripe, ProviderSessionID: "cs_1", TotalAmount: 2400,
	}
	require.NoError(t, f.db.Create(sale).Error)

	f.provider.decodeEventFunc = func(body []byte) (*client.WebhookEvent, error) {
		return &client.WebhookEvent{
			EventID:   "evt_1",
			EventType: "checkout.session.expired",
			Failed:    true,
			Status:    client.PaymentStatus{SessionID: "cs_1"},
		}, nil
	}

	require.NoError(t, f.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte("{}")))

	got, err := f.saleRepo.FindBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
}

func TestReceipt_ConcreteScenario(t *testing.T) {
	f := newFixture(t)
	f.provider.decodeEventFunc = func(body []byte) (*client.WebhookEvent, error) {
		return paidEvent("evt_1", "cs_1", "pi_1", "mug:2,shirt:1", 4400), nil
	}
	require.NoError(t, f.svc.HandleWebhook(context.Background(), "stripe", http.Header{}, []byte("{}")))

	sale, err := f.saleRepo.FindBySessionID(context.Background(), "cs_1")
	require.NoError(t, err)

	receipt, err := f.svc.Receipt(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaid, receipt.Status)
	assert.Equal(t, "44.00", receipt.Total)
	require.Len(t, receipt.Lines, 2)
	assert.Equal(t, "24.00", receipt.Lines[0].LineTotal)
	assert.Equal(t, "20.00", receipt.Lines[1].LineTotal)
}

func TestReceipt_UnknownID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Receipt(context.Background(), "no-such-sale")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestCreateSale_Manual(t *testing.T) {
	f := newFixture(t)

	resp, err := f.svc.CreateSale(context.Background(), &dto.CreateSaleRequest{
		Items: []catalog.BasketLine{{ProductCode: "cap", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	sale, err := f.saleRepo.FindByID(context.Background(), resp.SaleID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCreated, sale.Status)
	assert.Equal(t, int64(3000), sale.TotalAmount)
	assert.Empty(t, sale.PaymentMethod)
}

func TestCreateSale_UnknownMethod(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSale(context.Background(), &dto.CreateSaleRequest{
		Items:         []catalog.BasketLine{{ProductCode: "cap", Quantity: 1}},
		PaymentMethod: "cash-app",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestRecentSales(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateSale(context.Background(), &dto.CreateSaleRequest{
			Items: []catalog.BasketLine{{ProductCode: "mug", Quantity: 1}},
		})
		require.NoError(t, err)
	}

	sales, err := f.svc.RecentSales(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, sales, 3)
	assert.Equal(t, "12.00", sales[0].Total)
}
