package repository

import (
	"context"

	"app/internal/domain/model"
)

// 追記専用。UpdateもDeleteも用意しない。
type PaymentHistoryRepository interface {
	Create(ctx context.Context, h model.PaymentHistory) error
	ListByPaymentID(ctx context.Context, paymentID int64) ([]model.PaymentHistory, error)
}
