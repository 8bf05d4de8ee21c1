package repository

import (
	"context"

	repo "app/internal/repository"

	"gorm.io/gorm"
)

type txReposGorm struct {
	orders           repo.OrderRepository
	orderItems       repo.OrderItemRepository
	payments         repo.PaymentRepository
	paymentHistories repo.PaymentHistoryRepository
	otps             repo.OtpRepository
	inventory        repo.InventoryRepository
	variants         repo.VariantRepository
	auditLogs        repo.AuditLogRepository
}

func (r *txReposGorm) Orders() repo.OrderRepository                     { return r.orders }
func (r *txReposGorm) OrderItems() repo.OrderItemRepository             { return r.orderItems }
func (r *txReposGorm) Payments() repo.PaymentRepository                 { return r.payments }
func (r *txReposGorm) PaymentHistories() repo.PaymentHistoryRepository  { return r.paymentHistories }
func (r *txReposGorm) Otps() repo.OtpRepository                         { return r.otps }
func (r *txReposGorm) Inventory() repo.InventoryRepository              { return r.inventory }
func (r *txReposGorm) Variants() repo.VariantRepository                 { return r.variants }
func (r *txReposGorm) AuditLogs() repo.AuditLogRepository               { return r.auditLogs }

type TxManagerGorm struct {
	db *gorm.DB
}

func NewTxManagerGorm(db *gorm.DB) *TxManagerGorm {
	return &TxManagerGorm{db: db}
}

func (tm *TxManagerGorm) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		//repoはtxを持ったDBで作り直す
		r := &txReposGorm{
			orders:           NewOrderGormRepository(tx),
			orderItems:       NewOrderItemGormRepository(tx),
			payments:         NewPaymentGormRepository(tx),
			paymentHistories: NewPaymentHistoryGormRepository(tx),
			otps:             NewOtpGormRepository(tx),
			inventory:        NewInventoryGormRepository(tx),
			variants:         NewVariantGormRepository(tx),
			auditLogs:        NewAuditLogGormRepository(tx),
		}
		return fn(r)
	})
}
