package repository

import (
	"context"
	"errors"
	"time"

	"lostnfound-shop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SaleRepository interface {
	Create(ctx context.Context, tx *gorm.DB, sale *model.Sale, items []*model.SaleItem) error
	FindByID(ctx context.Context, saleID string) (*model.Sale, error)
	FindBySessionID(ctx context.Context, sessionID string) (*model.Sale, error)
	GetItems(ctx context.Context, saleID string) ([]*model.SaleItem, error)
	// MarkPaid flips an existing sale to paid, guarded on status, and reports
	// whether a row actually changed. Already-paid sales are left untouched.
	MarkPaid(ctx context.Context, tx *gorm.DB, sessionID, captureID, receiptURL string) (bool, error)
	// CreatePaid inserts a sale already in paid state; on a provider_session_id
	// conflict it inserts nothing and reports false, so concurrent
	// materializations of the same session collapse to one row.
	CreatePaid(ctx context.Context, tx *gorm.DB, sale *model.Sale, items []*model.SaleItem) (bool, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, sessionID string) (bool, error)
	ListRecent(ctx context.Context, limit int) ([]*model.Sale, error)
}

type saleRepoImpl struct {
	db *gorm.DB
}

func NewSaleRepository(db *gorm.DB) SaleRepository {
	return &saleRepoImpl{db: db}
}

func (r *saleRepoImpl) Create(ctx context.Context, tx *gorm.DB, sale *model.Sale, items []*model.SaleItem) error {
	if err := tx.WithContext(ctx).Create(sale).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func (r *saleRepoImpl) FindByID(ctx context.Context, saleID string) (*model.Sale, error) {
	var sale model.Sale
	err := r.db.WithContext(ctx).
		Where("id = ?", saleID).
		First(&sale).Error
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (r *saleRepoImpl) FindBySessionID(ctx context.Context, sessionID string) (*model.Sale, error) {
	var sale model.Sale
	err := r.db.WithContext(ctx).
		Where("provider_session_id = ?", sessionID).
		First(&sale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (r *saleRepoImpl) GetItems(ctx context.Context, saleID string) ([]*model.SaleItem, error) {
	var items []*model.SaleItem
	err := r.db.WithContext(ctx).
		Where("sale_id = ?", saleID).
		Order("id").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *saleRepoImpl) MarkPaid(ctx context.Context, tx *gorm.DB, sessionID, captureID, receiptURL string) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Sale{}).
		Where("provider_session_id = ? AND status <> ?", sessionID, model.StatusPaid).
		Updates(map[string]interface{}{
			"status":              model.StatusPaid,
			"provider_capture_id": captureID,
			"receipt_url":         receiptURL,
			"updated_at":          time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *saleRepoImpl) CreatePaid(ctx context.Context, tx *gorm.DB, sale *model.Sale, items []*model.SaleItem) (bool, error) {
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_session_id"}},
			DoNothing: true,
		}).
		Create(sale)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	if len(items) > 0 {
		if err := tx.WithContext(ctx).Create(&items).Error; err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *saleRepoImpl) MarkFailed(ctx context.Context, tx *gorm.DB, sessionID string) (bool, error) {
	result := tx.WithContext(ctx).Model(&model.Sale{}).
		Where("provider_session_id = ? AND status NOT IN ?", sessionID,
			[]string{model.StatusPaid, model.StatusFailed}).
		Updates(map[string]interface{}{
			"status":     model.StatusFailed,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *saleRepoImpl) ListRecent(ctx context.Context, limit int) ([]*model.Sale, error) {
	var sales []*model.Sale
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&sales).Error
	if err != nil {
		return nil, err
	}
	return sales, nil
}
