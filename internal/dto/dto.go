package dto

import "lostnfound-shop/internal/catalog"

type CheckoutRequest struct {
	Items []catalog.BasketLine `json:"items"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

type CreateSaleRequest struct {
	Items         []catalog.BasketLine `json:"items"`
	PaymentMethod string               `json:"payment_method"`
}

type CreateSaleResponse struct {
	Success bool   `json:"success"`
	SaleID  string `json:"sale_id"`
}

type ReceiptLine struct {
	ProductCode string `json:"product_code"`
	DisplayName string `json:"display_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int32  `json:"qty"`
	LineTotal   string `json:"line_total"`
}

type Receipt struct {
	SaleID        string        `json:"sale_id"`
	Status        string        `json:"status"`
	PaymentMethod string        `json:"payment_method"`
	Total         string        `json:"total"`
	ReceiptURL    string        `json:"receipt_url,omitempty"`
	CreatedAt     string        `json:"created_at"`
	Lines         []ReceiptLine `json:"lines"`
}

type SaleSummary struct {
	SaleID        string `json:"sale_id"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	Total         string `json:"total"`
	ItemCount     int32  `json:"item_count"`
	CreatedAt     string `json:"created_at"`
}
