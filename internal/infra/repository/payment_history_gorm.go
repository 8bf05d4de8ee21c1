package repository

import (
	"context"

	"app/internal/domain/model"

	"gorm.io/gorm"
)

type PaymentHistoryGormRepository struct {
	db *gorm.DB
}

func NewPaymentHistoryGormRepository(db *gorm.DB) *PaymentHistoryGormRepository {
	return &PaymentHistoryGormRepository{db: db}
}

func (r *PaymentHistoryGormRepository) Create(ctx context.Context, h model.PaymentHistory) error {
	return r.db.WithContext(ctx).Create(&h).Error
}

func (r *PaymentHistoryGormRepository) ListByPaymentID(ctx context.Context, paymentID int64) ([]model.PaymentHistory, error) {
	var items []model.PaymentHistory
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return []model.PaymentHistory{}, err
	}
	return items, nil
}
