package model

import "time"

// Sale lifecycle. Transitions are monotonic: created/pending -> paid or
// -> failed; a paid sale is never regressed.
const (
	StatusCreated = "created"
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
)

const (
	MethodStripe = "stripe"
	MethodPaypal = "paypal"
)

// Sale is one checkout attempt. It is the permanent audit trail: rows are
// created by checkout confirmation (or a manual record) and never deleted.
type Sale struct {
	ID            string `gorm:"primaryKey;size:36;not null"`
	Status        string `gorm:"size:16;index;not null"`
	PaymentMethod string `gorm:"size:16;index"` // stripe, paypal, or empty for manual
	// Provider correlation key; reconciliation is idempotent on this.
	// Stored as NULL for manual sales so the unique index only binds
	// provider-backed rows.
	ProviderSessionID string `gorm:"size:128;uniqueIndex;default:null"`
	// Settlement identifier, present iff status == paid.
	ProviderCaptureID string `gorm:"size:128"`
	ReceiptURL        string `gorm:"size:512"`
	TotalAmount       int64  `gorm:"not null"` // minor units, sum of item line totals
	ItemCount         int32  `gorm:"not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SaleItem is a basket line snapshotted at pricing time. Historical price
// changes never touch past sales.
type SaleItem struct {
	ID          uint   `gorm:"primaryKey"`
	SaleID      string `gorm:"size:36;index;not null"`
	ProductCode string `gorm:"size:64;not null"`
	DisplayName string `gorm:"size:128;not null"`
	UnitPrice   int64  `gorm:"not null"`
	Quantity    int32  `gorm:"not null"`
	LineTotal   int64  `gorm:"not null"`
	CreatedAt   time.Time
}

// WebhookEvent records processed provider event ids so redelivered events
// short-circuit before touching the ledger.
type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	Provider    string `gorm:"size:16;index"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}
