package repository

import (
	"context"
	"errors"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentGormRepository struct {
	db *gorm.DB
}

func NewPaymentGormRepository(db *gorm.DB) *PaymentGormRepository {
	return &PaymentGormRepository{db: db}
}

func (r *PaymentGormRepository) Create(ctx context.Context, p model.Payment) (int64, error) {
	if err := r.db.WithContext(ctx).Create(&p).Error; err != nil {
		return 0, err
	}
	return p.ID, nil
}

func (r *PaymentGormRepository) FindByID(ctx context.Context, paymentID int64) (model.Payment, error) {
	return r.findOne(ctx, r.db, "id = ?", paymentID)
}

func (r *PaymentGormRepository) FindByOrderID(ctx context.Context, orderID int64) (model.Payment, error) {
	return r.findOne(ctx, r.db, "order_id = ?", orderID)
}

func (r *PaymentGormRepository) FindByTransactionCode(ctx context.Context, code string) (model.Payment, error) {
	return r.findOne(ctx, r.db, "transaction_code = ?", code)
}

// SELECT ... FOR UPDATE。集約単位の排他はこの行ロックで取る。
func (r *PaymentGormRepository) FindByIDForUpdate(ctx context.Context, paymentID int64) (model.Payment, error) {
	locked := r.db.Clauses(clause.Locking{Strength: "UPDATE"})
	return r.findOne(ctx, locked, "id = ?", paymentID)
}

func (r *PaymentGormRepository) FindByOrderIDForUpdate(ctx context.Context, orderID int64) (model.Payment, error) {
	locked := r.db.Clauses(clause.Locking{Strength: "UPDATE"})
	return r.findOne(ctx, locked, "order_id = ?", orderID)
}

func (r *PaymentGormRepository) Update(ctx context.Context, p model.Payment) error {
	res := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ?", p.ID).
		Updates(map[string]interface{}{
			"method":           p.Method,
			"amount":           p.Amount,
			"transaction_code": p.TransactionCode,
			"status":           p.Status,
			"redirect_url":     p.RedirectURL,
			"cod_attempts":     p.CodAttempts,
			"completed_at":     p.CompletedAt,
		})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *PaymentGormRepository) ListStalePending(ctx context.Context, before time.Time) ([]model.Payment, error) {
	var items []model.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ?", []model.PaymentStatus{
			model.PaymentStatusPending,
			model.PaymentStatusAwaitingDelivery,
		}).
		Where("created_at < ?", before).
		Order("created_at asc").
		Find(&items).Error
	if err != nil {
		return []model.Payment{}, err
	}
	return items, nil
}

func (r *PaymentGormRepository) findOne(ctx context.Context, db *gorm.DB, query string, arg interface{}) (model.Payment, error) {
	var p model.Payment
	err := db.WithContext(ctx).Where(query, arg).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Payment{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Payment{}, err
	}
	return p, nil
}
