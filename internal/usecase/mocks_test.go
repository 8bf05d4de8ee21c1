package usecase_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
	"app/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// =====================
// TxManager / TxRepos mocks
// =====================

// TxManagerMock は WithinTx の中で渡す repos を固定して unit テストを回す
type TxManagerMock struct {
	mock.Mock
	Repos repo.TxRepos
}

func (m *TxManagerMock) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	// 呼ばれた事実だけ記録（ctxの具体値は問わない）
	m.Called(ctx)
	return fn(m.Repos)
}

type TxReposMock struct {
	orders     repo.OrderRepository
	orderItems repo.OrderItemRepository
	payments   repo.PaymentRepository
	histories  repo.PaymentHistoryRepository
	otps       repo.OtpRepository
	inventory  repo.InventoryRepository
	variants   repo.VariantRepository
	auditLogs  repo.AuditLogRepository
}

func (r *TxReposMock) Orders() repo.OrderRepository                     { return r.orders }
func (r *TxReposMock) OrderItems() repo.OrderItemRepository             { return r.orderItems }
func (r *TxReposMock) Payments() repo.PaymentRepository                 { return r.payments }
func (r *TxReposMock) PaymentHistories() repo.PaymentHistoryRepository  { return r.histories }
func (r *TxReposMock) Otps() repo.OtpRepository                         { return r.otps }
func (r *TxReposMock) Inventory() repo.InventoryRepository              { return r.inventory }
func (r *TxReposMock) Variants() repo.VariantRepository                 { return r.variants }
func (r *TxReposMock) AuditLogs() repo.AuditLogRepository               { return r.auditLogs }

// =====================
// Repository mocks
// =====================

type OrderRepoMock struct{ mock.Mock }

func (m *OrderRepoMock) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	args := m.Called(ctx, orderID)
	o, _ := args.Get(0).(model.Order)
	return o, args.Error(1)
}

func (m *OrderRepoMock) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	args := m.Called(ctx, userID, page, limit)
	orders, _ := args.Get(0).([]model.Order)
	return orders, args.Get(1).(int64), args.Error(2)
}

func (m *OrderRepoMock) Create(ctx context.Context, order model.Order) (int64, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(int64), args.Error(1)
}

func (m *OrderRepoMock) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	args := m.Called(ctx, orderID, status)
	return args.Error(0)
}

func (m *OrderRepoMock) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	args := m.Called(ctx, f)
	orders, _ := args.Get(0).([]model.Order)
	return orders, args.Get(1).(int64), args.Error(2)
}

type OrderItemRepoMock struct{ mock.Mock }

func (m *OrderItemRepoMock) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	args := m.Called(ctx, orderID, items)
	return args.Error(0)
}

func (m *OrderItemRepoMock) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	args := m.Called(ctx, orderID)
	items, _ := args.Get(0).([]model.OrderItem)
	return items, args.Error(1)
}

type PaymentRepoMock struct{ mock.Mock }

func (m *PaymentRepoMock) Create(ctx context.Context, p model.Payment) (int64, error) {
	args := m.Called(ctx, p)
	return args.Get(0).(int64), args.Error(1)
}

func (m *PaymentRepoMock) FindByID(ctx context.Context, paymentID int64) (model.Payment, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(model.Payment)
	return p, args.Error(1)
}

func (m *PaymentRepoMock) FindByOrderID(ctx context.Context, orderID int64) (model.Payment, error) {
	args := m.Called(ctx, orderID)
	p, _ := args.Get(0).(model.Payment)
	return p, args.Error(1)
}

func (m *PaymentRepoMock) FindByTransactionCode(ctx context.Context, code string) (model.Payment, error) {
	args := m.Called(ctx, code)
	p, _ := args.Get(0).(model.Payment)
	return p, args.Error(1)
}

func (m *PaymentRepoMock) FindByIDForUpdate(ctx context.Context, paymentID int64) (model.Payment, error) {
	args := m.Called(ctx, paymentID)
	p, _ := args.Get(0).(model.Payment)
	return p, args.Error(1)
}

func (m *PaymentRepoMock) FindByOrderIDForUpdate(ctx context.Context, orderID int64) (model.Payment, error) {
	args := m.Called(ctx, orderID)
	p, _ := args.Get(0).(model.Payment)
	return p, args.Error(1)
}

func (m *PaymentRepoMock) Update(ctx context.Context, p model.Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *PaymentRepoMock) ListStalePending(ctx context.Context, before time.Time) ([]model.Payment, error) {
	args := m.Called(ctx, before)
	ps, _ := args.Get(0).([]model.Payment)
	return ps, args.Error(1)
}

type PaymentHistoryRepoMock struct{ mock.Mock }

func (m *PaymentHistoryRepoMock) Create(ctx context.Context, h model.PaymentHistory) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *PaymentHistoryRepoMock) ListByPaymentID(ctx context.Context, paymentID int64) ([]model.PaymentHistory, error) {
	args := m.Called(ctx, paymentID)
	hs, _ := args.Get(0).([]model.PaymentHistory)
	return hs, args.Error(1)
}

type OtpRepoMock struct{ mock.Mock }

func (m *OtpRepoMock) Create(ctx context.Context, c model.OtpChallenge) (int64, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(int64), args.Error(1)
}

func (m *OtpRepoMock) FindLiveByOrderID(ctx context.Context, orderID int64) (model.OtpChallenge, error) {
	args := m.Called(ctx, orderID)
	c, _ := args.Get(0).(model.OtpChallenge)
	return c, args.Error(1)
}

func (m *OtpRepoMock) InvalidateByOrderID(ctx context.Context, orderID int64) error {
	args := m.Called(ctx, orderID)
	return args.Error(0)
}

func (m *OtpRepoMock) MarkConsumed(ctx context.Context, challengeID int64) error {
	args := m.Called(ctx, challengeID)
	return args.Error(0)
}

type InventoryRepoMock struct{ mock.Mock }

func (m *InventoryRepoMock) DecreaseStockIfEnough(ctx context.Context, variantID int64, qty int64) (bool, error) {
	args := m.Called(ctx, variantID, qty)
	return args.Bool(0), args.Error(1)
}

func (m *InventoryRepoMock) IncreaseStock(ctx context.Context, variantID int64, qty int64) error {
	args := m.Called(ctx, variantID, qty)
	return args.Error(0)
}

func (m *InventoryRepoMock) CreateAdjustment(ctx context.Context, adjustment model.InventoryAdjustment) error {
	args := m.Called(ctx, adjustment)
	return args.Error(0)
}

type VariantRepoMock struct{ mock.Mock }

func (m *VariantRepoMock) FindByID(ctx context.Context, variantID int64) (model.ProductVariant, error) {
	args := m.Called(ctx, variantID)
	v, _ := args.Get(0).(model.ProductVariant)
	return v, args.Error(1)
}

type AddressRepoMock struct{ mock.Mock }

func (m *AddressRepoMock) FindByID(ctx context.Context, addressID int64) (model.Address, error) {
	args := m.Called(ctx, addressID)
	a, _ := args.Get(0).(model.Address)
	return a, args.Error(1)
}

type AuditRepoMock struct{ mock.Mock }

func (m *AuditRepoMock) Create(ctx context.Context, log model.AuditLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

func (m *AuditRepoMock) List(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	args := m.Called(ctx, filter)
	logs, _ := args.Get(0).([]model.AuditLog)
	return logs, args.Error(1)
}

// =====================
// 外部連携のモック
// =====================

type GatewayMock struct{ mock.Mock }

func (m *GatewayMock) BuildRedirectURL(ctx context.Context, p model.Payment) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *GatewayMock) VerifyCallback(ctx context.Context, params map[string]string) (usecase.GatewayResult, error) {
	args := m.Called(ctx, params)
	res, _ := args.Get(0).(usecase.GatewayResult)
	return res, args.Error(1)
}

func (m *GatewayMock) VerifyWebhook(ctx context.Context, payload usecase.WebhookPayload) (usecase.GatewayResult, error) {
	args := m.Called(ctx, payload)
	res, _ := args.Get(0).(usecase.GatewayResult)
	return res, args.Error(1)
}

func (m *GatewayMock) CheckStatus(ctx context.Context, transactionCode string) (usecase.GatewayResult, error) {
	args := m.Called(ctx, transactionCode)
	res, _ := args.Get(0).(usecase.GatewayResult)
	return res, args.Error(1)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) SendOtp(ctx context.Context, orderID int64, phone string, code string) error {
	args := m.Called(ctx, orderID, phone, code)
	return args.Error(0)
}

// =====================
// Helpers
// =====================

func assertErrContains(t *testing.T, err error, wantSubstr string) {
	t.Helper()
	if assert.Error(t, err) {
		assert.True(t, strings.Contains(err.Error(), wantSubstr), "err=%q want contains %q", err.Error(), wantSubstr)
	}
}

func fixedTxCode(code string) func() string {
	return func() string { return code }
}
