package usecase_test

import (
	"context"
	"testing"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
	"app/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newPaymentUsecase(tx *TxManagerMock, payments *PaymentRepoMock, addresses *AddressRepoMock, gw *GatewayMock, notifier *NotifierMock) *usecase.PaymentUsecase {
	return usecase.NewPaymentUsecase(
		tx,
		payments,
		addresses,
		gw,
		notifier,
		fixedTxCode("txn-test"),
		5*time.Minute,
		zap.NewNop(),
	)
}

func strPtr(s string) *string { return &s }

// =====================
// CreatePayment（後からの方法選択）
// =====================

func TestCreatePayment_Online_AssignsCodeAndRedirect(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)
	historyRepo := new(PaymentHistoryRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo, histories: historyRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	orderID := int64(42)
	userID := int64(7)

	paymentsRepo.On("FindByOrderIDForUpdate", mock.Anything, orderID).Return(model.Payment{
		ID: 9, OrderID: orderID, Amount: 5500, Status: model.PaymentStatusPending,
	}, nil)
	ordersRepo.On("FindByID", mock.Anything, orderID).Return(model.Order{
		ID: orderID, UserID: userID, Status: model.OrderStatusPending,
	}, nil)

	gw.On("BuildRedirectURL", mock.Anything, mock.MatchedBy(func(p model.Payment) bool {
		return p.TransactionCode != nil && *p.TransactionCode == "txn-test"
	})).Return("https://gw.example.com/pay?txn_ref=txn-test", nil)

	paymentsRepo.On("Update", mock.Anything, mock.MatchedBy(func(p model.Payment) bool {
		return p.Method == model.PaymentMethodOnline &&
			p.TransactionCode != nil && *p.TransactionCode == "txn-test" &&
			p.RedirectURL != "" &&
			p.Status == model.PaymentStatusPending
	})).Return(nil)
	historyRepo.On("Create", mock.Anything, mock.MatchedBy(func(h model.PaymentHistory) bool {
		return h.PaymentID == int64(9) && h.Status == model.PaymentStatusPending
	})).Return(nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	out, err := uc.CreatePayment(ctx, userID, orderID, "ONLINE")
	assert.NoError(t, err)
	assert.Equal(t, "txn-test", out.TransactionCode)
	assert.Equal(t, "https://gw.example.com/pay?txn_ref=txn-test", out.RedirectURL)

	paymentsRepo.AssertExpectations(t)
	gw.AssertExpectations(t)
}

func TestCreatePayment_MethodAlreadySelected(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	paymentsRepo.On("FindByOrderIDForUpdate", mock.Anything, int64(42)).Return(model.Payment{
		ID: 9, OrderID: 42, Method: model.PaymentMethodOnline, Status: model.PaymentStatusPending,
	}, nil)
	ordersRepo.On("FindByID", mock.Anything, int64(42)).Return(model.Order{
		ID: 42, UserID: 7, Status: model.OrderStatusPending,
	}, nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	_, err := uc.CreatePayment(ctx, 7, 42, "COD")
	assertErrContains(t, err, "method already selected")
}

// =====================
// ゲートウェイイベントの適用
// =====================

func TestConfirmWebhook_Success_CompletesPaymentAndConfirmsOrder(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)
	historyRepo := new(PaymentHistoryRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo, histories: historyRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	payload := usecase.WebhookPayload{Token: "tok", TransactionID: "txn-1", Status: "success"}
	gw.On("VerifyWebhook", mock.Anything, payload).Return(usecase.GatewayResult{
		TransactionCode: "txn-1",
		Status:          usecase.GatewayStatusSuccess,
	}, nil)

	p := model.Payment{ID: 9, OrderID: 42, Method: model.PaymentMethodOnline, TransactionCode: strPtr("txn-1"), Status: model.PaymentStatusPending}
	paymentsRepo.On("FindByTransactionCode", mock.Anything, "txn-1").Return(p, nil)
	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(p, nil)

	paymentsRepo.On("Update", mock.Anything, mock.MatchedBy(func(q model.Payment) bool {
		return q.Status == model.PaymentStatusCompleted && q.CompletedAt != nil
	})).Return(nil)
	historyRepo.On("Create", mock.Anything, mock.MatchedBy(func(h model.PaymentHistory) bool {
		return h.Status == model.PaymentStatusCompleted
	})).Return(nil).Once()

	ordersRepo.On("FindByID", mock.Anything, int64(42)).Return(model.Order{
		ID: 42, Status: model.OrderStatusPending,
	}, nil)
	ordersRepo.On("UpdateStatus", mock.Anything, int64(42), model.OrderStatusConfirmed).Return(nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	out, err := uc.ConfirmWebhook(ctx, payload)
	assert.NoError(t, err)
	assert.Equal(t, "COMPLETED", out.Status)

	paymentsRepo.AssertExpectations(t)
	ordersRepo.AssertExpectations(t)
	historyRepo.AssertExpectations(t)
}

func TestConfirmWebhook_DuplicateReport_IsNoOp(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	paymentsRepo := new(PaymentRepoMock)
	historyRepo := new(PaymentHistoryRepoMock)

	tx.Repos = &TxReposMock{payments: paymentsRepo, histories: historyRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	payload := usecase.WebhookPayload{Token: "tok", TransactionID: "txn-1", Status: "success"}
	gw.On("VerifyWebhook", mock.Anything, payload).Return(usecase.GatewayResult{
		TransactionCode: "txn-1",
		Status:          usecase.GatewayStatusSuccess,
	}, nil)

	p := model.Payment{ID: 9, OrderID: 42, TransactionCode: strPtr("txn-1"), Status: model.PaymentStatusCompleted}
	paymentsRepo.On("FindByTransactionCode", mock.Anything, "txn-1").Return(p, nil)
	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(p, nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	out, err := uc.ConfirmWebhook(ctx, payload)
	assert.NoError(t, err)
	assert.Equal(t, "COMPLETED", out.Status)

	// 再送は状態も履歴も変えない
	paymentsRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	historyRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestConfirmWebhook_ConflictingTerminalReport_OnlyRecordsNote(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	paymentsRepo := new(PaymentRepoMock)
	historyRepo := new(PaymentHistoryRepoMock)

	tx.Repos = &TxReposMock{payments: paymentsRepo, histories: historyRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	payload := usecase.WebhookPayload{Token: "tok", TransactionID: "txn-1", Status: "failed"}
	gw.On("VerifyWebhook", mock.Anything, payload).Return(usecase.GatewayResult{
		TransactionCode: "txn-1",
		Status:          usecase.GatewayStatusFailed,
		Reason:          "card declined",
	}, nil)

	// すでにCOMPLETED。矛盾するfailed報告はメモだけ残す。
	p := model.Payment{ID: 9, OrderID: 42, TransactionCode: strPtr("txn-1"), Status: model.PaymentStatusCompleted}
	paymentsRepo.On("FindByTransactionCode", mock.Anything, "txn-1").Return(p, nil)
	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(p, nil)

	historyRepo.On("Create", mock.Anything, mock.MatchedBy(func(h model.PaymentHistory) bool {
		return h.Status == model.PaymentStatusCompleted &&
			h.Note == "conflicting webhook report ignored: status=failed reason=card declined"
	})).Return(nil).Once()

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	out, err := uc.ConfirmWebhook(ctx, payload)
	assert.NoError(t, err)
	assert.Equal(t, "COMPLETED", out.Status)

	paymentsRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	historyRepo.AssertExpectations(t)
}

func TestConfirmWebhook_BadToken_ChangesNothing(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	payload := usecase.WebhookPayload{Token: "bad", TransactionID: "txn-1", Status: "success"}
	gw.On("VerifyWebhook", mock.Anything, payload).Return(usecase.GatewayResult{}, &usecase.GatewayAuthenticityError{Reason: "token mismatch"})

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	_, err := uc.ConfirmWebhook(ctx, payload)

	var ga *usecase.GatewayAuthenticityError
	assert.ErrorAs(t, err, &ga)
	tx.AssertNotCalled(t, "WithinTx", mock.Anything)
}

func TestConfirmCallback_Failure_MarksFailed(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)
	historyRepo := new(PaymentHistoryRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo, histories: historyRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	params := map[string]string{"txn_ref": "txn-1", "resp_code": "51", "signature": "sig"}
	gw.On("VerifyCallback", mock.Anything, params).Return(usecase.GatewayResult{
		TransactionCode: "txn-1",
		Status:          usecase.GatewayStatusFailed,
		Reason:          "insufficient funds",
	}, nil)

	p := model.Payment{ID: 9, OrderID: 42, TransactionCode: strPtr("txn-1"), Status: model.PaymentStatusPending}
	paymentsRepo.On("FindByTransactionCode", mock.Anything, "txn-1").Return(p, nil)
	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(p, nil)

	paymentsRepo.On("Update", mock.Anything, mock.MatchedBy(func(q model.Payment) bool {
		return q.Status == model.PaymentStatusFailed && q.CompletedAt == nil
	})).Return(nil)
	historyRepo.On("Create", mock.Anything, mock.MatchedBy(func(h model.PaymentHistory) bool {
		return h.Status == model.PaymentStatusFailed && h.Note == "callback: insufficient funds"
	})).Return(nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	out, err := uc.ConfirmCallback(ctx, params)
	assert.NoError(t, err)
	assert.Equal(t, "FAILED", out.Status)

	// 失敗では注文は動かさない
	ordersRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

// =====================
// COD
// =====================

func TestConfirmCodPayment_CompletesPaymentAndOrder(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)
	historyRepo := new(PaymentHistoryRepoMock)
	audit := new(AuditRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo, histories: historyRepo, auditLogs: audit}
	tx.On("WithinTx", mock.Anything).Return(nil)

	adminID := int64(999)

	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(model.Payment{
		ID: 9, OrderID: 42, Method: model.PaymentMethodCOD, Status: model.PaymentStatusAwaitingDelivery,
	}, nil)

	paymentsRepo.On("Update", mock.Anything, mock.MatchedBy(func(q model.Payment) bool {
		return q.Status == model.PaymentStatusCompleted
	})).Return(nil)
	historyRepo.On("Create", mock.Anything, mock.MatchedBy(func(h model.PaymentHistory) bool {
		return h.Status == model.PaymentStatusCompleted && h.Note == "cash collected on delivery"
	})).Return(nil)

	// 配達完了なので注文はCONFIRMED経由でCOMPLETEDまで進む
	ordersRepo.On("FindByID", mock.Anything, int64(42)).Return(model.Order{
		ID: 42, Status: model.OrderStatusPending,
	}, nil)
	ordersRepo.On("UpdateStatus", mock.Anything, int64(42), model.OrderStatusConfirmed).Return(nil)
	ordersRepo.On("UpdateStatus", mock.Anything, int64(42), model.OrderStatusCompleted).Return(nil)

	audit.On("Create", mock.Anything, mock.MatchedBy(func(a model.AuditLog) bool {
		return a.ActorUserID == adminID &&
			a.ResourceType == model.AuditResourcePayment &&
			a.BeforeJSON == `{"status":"AWAITING_DELIVERY"}` &&
			a.AfterJSON == `{"status":"COMPLETED"}`
	})).Return(nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	out, err := uc.ConfirmCodPayment(ctx, adminID, 9, "")
	assert.NoError(t, err)
	assert.Equal(t, "COMPLETED", out.Status)

	ordersRepo.AssertExpectations(t)
	audit.AssertExpectations(t)
}

func TestConfirmCodPayment_WrongState(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	paymentsRepo := new(PaymentRepoMock)

	tx.Repos = &TxReposMock{payments: paymentsRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(model.Payment{
		ID: 9, OrderID: 42, Method: model.PaymentMethodOnline, Status: model.PaymentStatusPending,
	}, nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	_, err := uc.ConfirmCodPayment(ctx, 1, 9, "")

	var st *usecase.InvalidStateTransitionError
	assert.ErrorAs(t, err, &st)
	assert.Equal(t, "PENDING", st.From)
	paymentsRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestRejectCodPayment_RequiresReason(t *testing.T) {
	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	_, err := uc.RejectCodPayment(context.Background(), 1, 9, "", "")
	assertErrContains(t, err, "reason required")
	tx.AssertNotCalled(t, "WithinTx", mock.Anything)
}

func TestRejectCodPayment_Success(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	paymentsRepo := new(PaymentRepoMock)
	historyRepo := new(PaymentHistoryRepoMock)
	audit := new(AuditRepoMock)

	tx.Repos = &TxReposMock{payments: paymentsRepo, histories: historyRepo, auditLogs: audit}
	tx.On("WithinTx", mock.Anything).Return(nil)

	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(model.Payment{
		ID: 9, OrderID: 42, Method: model.PaymentMethodCOD, Status: model.PaymentStatusAwaitingDelivery,
	}, nil)

	paymentsRepo.On("Update", mock.Anything, mock.MatchedBy(func(q model.Payment) bool {
		return q.Status == model.PaymentStatusRejected
	})).Return(nil)
	historyRepo.On("Create", mock.Anything, mock.MatchedBy(func(h model.PaymentHistory) bool {
		return h.Status == model.PaymentStatusRejected && h.Note == "customer absent: second attempt tomorrow"
	})).Return(nil)
	audit.On("Create", mock.Anything, mock.Anything).Return(nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	out, err := uc.RejectCodPayment(ctx, 1, 9, "customer absent", "second attempt tomorrow")
	assert.NoError(t, err)
	assert.Equal(t, "REJECTED", out.Status)

	historyRepo.AssertExpectations(t)
}

func TestReattemptCodDelivery_IncrementsAttempts(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	paymentsRepo := new(PaymentRepoMock)
	historyRepo := new(PaymentHistoryRepoMock)
	audit := new(AuditRepoMock)

	tx.Repos = &TxReposMock{payments: paymentsRepo, histories: historyRepo, auditLogs: audit}
	tx.On("WithinTx", mock.Anything).Return(nil)

	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(model.Payment{
		ID: 9, OrderID: 42, Method: model.PaymentMethodCOD, Status: model.PaymentStatusRejected, CodAttempts: 1,
	}, nil)

	paymentsRepo.On("Update", mock.Anything, mock.MatchedBy(func(q model.Payment) bool {
		return q.Status == model.PaymentStatusAwaitingDelivery && q.CodAttempts == 2
	})).Return(nil)
	historyRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	audit.On("Create", mock.Anything, mock.Anything).Return(nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	out, err := uc.ReattemptCodDelivery(ctx, 1, 9)
	assert.NoError(t, err)
	assert.Equal(t, "AWAITING_DELIVERY", out.Status)
	assert.Equal(t, 2, out.CodAttempts)

	paymentsRepo.AssertExpectations(t)
}

func TestReattemptCodDelivery_LimitReached(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	paymentsRepo := new(PaymentRepoMock)

	tx.Repos = &TxReposMock{payments: paymentsRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(model.Payment{
		ID: 9, OrderID: 42, Method: model.PaymentMethodCOD, Status: model.PaymentStatusRejected, CodAttempts: 3,
	}, nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	_, err := uc.ReattemptCodDelivery(ctx, 1, 9)
	assertErrContains(t, err, "reattempt limit reached")
	paymentsRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestReattemptCodDelivery_OnlyFromRejected(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	paymentsRepo := new(PaymentRepoMock)

	tx.Repos = &TxReposMock{payments: paymentsRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(model.Payment{
		ID: 9, OrderID: 42, Method: model.PaymentMethodCOD, Status: model.PaymentStatusAwaitingDelivery,
	}, nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	_, err := uc.ReattemptCodDelivery(ctx, 1, 9)

	var st *usecase.InvalidStateTransitionError
	assert.ErrorAs(t, err, &st)
	assert.Equal(t, "AWAITING_DELIVERY", st.From)
}

// COD選択→拒否→再配達→回収の一連で履歴がちょうど4件になる
func TestCodLifecycle_WritesFourHistoryEntries(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)
	historyRepo := new(PaymentHistoryRepoMock)
	audit := new(AuditRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo, histories: historyRepo, auditLogs: audit}
	tx.On("WithinTx", mock.Anything).Return(nil)

	orderID := int64(42)
	userID := int64(7)

	var notes []model.PaymentStatus
	historyRepo.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		h := args.Get(1).(model.PaymentHistory)
		notes = append(notes, h.Status)
	}).Return(nil)

	paymentsRepo.On("Update", mock.Anything, mock.Anything).Return(nil)
	audit.On("Create", mock.Anything, mock.Anything).Return(nil)

	// 1. 方法選択（COD）
	paymentsRepo.On("FindByOrderIDForUpdate", mock.Anything, orderID).Return(model.Payment{
		ID: 9, OrderID: orderID, Amount: 5500, Status: model.PaymentStatusPending,
	}, nil).Once()
	ordersRepo.On("FindByID", mock.Anything, orderID).Return(model.Order{
		ID: orderID, UserID: userID, Status: model.OrderStatusPending,
	}, nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	_, err := uc.CreatePayment(ctx, userID, orderID, "COD")
	assert.NoError(t, err)

	// 2. 受取拒否
	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(model.Payment{
		ID: 9, OrderID: orderID, Method: model.PaymentMethodCOD, Status: model.PaymentStatusAwaitingDelivery,
	}, nil).Once()
	_, err = uc.RejectCodPayment(ctx, 1, 9, "customer absent", "")
	assert.NoError(t, err)

	// 3. 再配達
	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(model.Payment{
		ID: 9, OrderID: orderID, Method: model.PaymentMethodCOD, Status: model.PaymentStatusRejected, CodAttempts: 0,
	}, nil).Once()
	_, err = uc.ReattemptCodDelivery(ctx, 1, 9)
	assert.NoError(t, err)

	// 4. 現金回収
	paymentsRepo.On("FindByIDForUpdate", mock.Anything, int64(9)).Return(model.Payment{
		ID: 9, OrderID: orderID, Method: model.PaymentMethodCOD, Status: model.PaymentStatusAwaitingDelivery, CodAttempts: 1,
	}, nil).Once()
	ordersRepo.On("UpdateStatus", mock.Anything, orderID, mock.Anything).Return(nil)
	_, err = uc.ConfirmCodPayment(ctx, 1, 9, "")
	assert.NoError(t, err)

	assert.Equal(t, []model.PaymentStatus{
		model.PaymentStatusAwaitingDelivery,
		model.PaymentStatusRejected,
		model.PaymentStatusAwaitingDelivery,
		model.PaymentStatusCompleted,
	}, notes)
}

// =====================
// OTP
// =====================

func TestSendDeliveryConfirmationOtp_InvalidatesPreviousCode(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)
	otpsRepo := new(OtpRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo, otps: otpsRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	orderID := int64(42)
	userID := int64(7)

	paymentsRepo.On("FindByOrderIDForUpdate", mock.Anything, orderID).Return(model.Payment{
		ID: 9, OrderID: orderID, Method: model.PaymentMethodCOD, Status: model.PaymentStatusAwaitingDelivery,
	}, nil)
	ordersRepo.On("FindByID", mock.Anything, orderID).Return(model.Order{
		ID: orderID, UserID: userID, AddressID: 3, Status: model.OrderStatusPending,
	}, nil)
	addresses.On("FindByID", mock.Anything, int64(3)).Return(model.Address{ID: 3, UserID: userID, Phone: "09012345678"}, nil)

	otpsRepo.On("InvalidateByOrderID", mock.Anything, orderID).Return(nil).Once()
	otpsRepo.On("Create", mock.Anything, mock.MatchedBy(func(c model.OtpChallenge) bool {
		return c.OrderID == orderID && c.CodeHash != "" && c.ExpiresAt.After(time.Now())
	})).Return(int64(1), nil).Once()

	notifier.On("SendOtp", mock.Anything, orderID, "09012345678", mock.MatchedBy(func(code string) bool {
		return len(code) == 6
	})).Return(nil).Once()

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	err := uc.SendDeliveryConfirmationOtp(ctx, userID, orderID)
	assert.NoError(t, err)

	otpsRepo.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestSendDeliveryConfirmationOtp_WrongState(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)
	otpsRepo := new(OtpRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo, otps: otpsRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	paymentsRepo.On("FindByOrderIDForUpdate", mock.Anything, int64(42)).Return(model.Payment{
		ID: 9, OrderID: 42, Method: model.PaymentMethodOnline, Status: model.PaymentStatusCompleted,
	}, nil)
	ordersRepo.On("FindByID", mock.Anything, int64(42)).Return(model.Order{
		ID: 42, UserID: 7, Status: model.OrderStatusConfirmed,
	}, nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	err := uc.SendDeliveryConfirmationOtp(ctx, 7, 42)

	var st *usecase.InvalidStateTransitionError
	assert.ErrorAs(t, err, &st)
	otpsRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	notifier.AssertNotCalled(t, "SendOtp", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestConfirmDeliveryWithOtp_Success(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)
	historyRepo := new(PaymentHistoryRepoMock)
	otpsRepo := new(OtpRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo, histories: historyRepo, otps: otpsRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	orderID := int64(42)
	userID := int64(7)

	hash, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.MinCost)
	assert.NoError(t, err)

	paymentsRepo.On("FindByOrderIDForUpdate", mock.Anything, orderID).Return(model.Payment{
		ID: 9, OrderID: orderID, Method: model.PaymentMethodCOD, Status: model.PaymentStatusAwaitingDelivery,
	}, nil)
	ordersRepo.On("FindByID", mock.Anything, orderID).Return(model.Order{
		ID: orderID, UserID: userID, Status: model.OrderStatusPending,
	}, nil)

	otpsRepo.On("FindLiveByOrderID", mock.Anything, orderID).Return(model.OtpChallenge{
		ID: 5, OrderID: orderID, CodeHash: string(hash), ExpiresAt: time.Now().Add(3 * time.Minute),
	}, nil)
	otpsRepo.On("MarkConsumed", mock.Anything, int64(5)).Return(nil).Once()

	paymentsRepo.On("Update", mock.Anything, mock.MatchedBy(func(q model.Payment) bool {
		return q.Status == model.PaymentStatusCompleted
	})).Return(nil)
	historyRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

	ordersRepo.On("UpdateStatus", mock.Anything, orderID, model.OrderStatusConfirmed).Return(nil)
	ordersRepo.On("UpdateStatus", mock.Anything, orderID, model.OrderStatusCompleted).Return(nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	out, err := uc.ConfirmDeliveryWithOtp(ctx, userID, orderID, "123456")
	assert.NoError(t, err)
	assert.Equal(t, "COMPLETED", out.Status)

	otpsRepo.AssertExpectations(t)
	ordersRepo.AssertExpectations(t)
}

func TestConfirmDeliveryWithOtp_WrongCode_KeepsChallengeAlive(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)
	otpsRepo := new(OtpRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo, otps: otpsRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	hash, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.MinCost)
	assert.NoError(t, err)

	paymentsRepo.On("FindByOrderIDForUpdate", mock.Anything, int64(42)).Return(model.Payment{
		ID: 9, OrderID: 42, Method: model.PaymentMethodCOD, Status: model.PaymentStatusAwaitingDelivery,
	}, nil)
	ordersRepo.On("FindByID", mock.Anything, int64(42)).Return(model.Order{
		ID: 42, UserID: 7, Status: model.OrderStatusPending,
	}, nil)
	otpsRepo.On("FindLiveByOrderID", mock.Anything, int64(42)).Return(model.OtpChallenge{
		ID: 5, OrderID: 42, CodeHash: string(hash), ExpiresAt: time.Now().Add(3 * time.Minute),
	}, nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	_, err = uc.ConfirmDeliveryWithOtp(ctx, 7, 42, "654321")

	var mismatch *usecase.OtpMismatchError
	assert.ErrorAs(t, err, &mismatch)

	// 不一致ではチャレンジを消費しない
	otpsRepo.AssertNotCalled(t, "MarkConsumed", mock.Anything, mock.Anything)
	paymentsRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestConfirmDeliveryWithOtp_Expired(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)
	otpsRepo := new(OtpRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo, otps: otpsRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	hash, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.MinCost)
	assert.NoError(t, err)

	paymentsRepo.On("FindByOrderIDForUpdate", mock.Anything, int64(42)).Return(model.Payment{
		ID: 9, OrderID: 42, Method: model.PaymentMethodCOD, Status: model.PaymentStatusAwaitingDelivery,
	}, nil)
	ordersRepo.On("FindByID", mock.Anything, int64(42)).Return(model.Order{
		ID: 42, UserID: 7, Status: model.OrderStatusPending,
	}, nil)
	otpsRepo.On("FindLiveByOrderID", mock.Anything, int64(42)).Return(model.OtpChallenge{
		ID: 5, OrderID: 42, CodeHash: string(hash), ExpiresAt: time.Now().Add(-1 * time.Minute),
	}, nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	_, err = uc.ConfirmDeliveryWithOtp(ctx, 7, 42, "123456")

	var expired *usecase.OtpExpiredError
	assert.ErrorAs(t, err, &expired)
	otpsRepo.AssertNotCalled(t, "MarkConsumed", mock.Anything, mock.Anything)
}

func TestConfirmDeliveryWithOtp_NoLiveChallenge(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	ordersRepo := new(OrderRepoMock)
	paymentsRepo := new(PaymentRepoMock)
	otpsRepo := new(OtpRepoMock)

	tx.Repos = &TxReposMock{orders: ordersRepo, payments: paymentsRepo, otps: otpsRepo}
	tx.On("WithinTx", mock.Anything).Return(nil)

	paymentsRepo.On("FindByOrderIDForUpdate", mock.Anything, int64(42)).Return(model.Payment{
		ID: 9, OrderID: 42, Method: model.PaymentMethodCOD, Status: model.PaymentStatusAwaitingDelivery,
	}, nil)
	ordersRepo.On("FindByID", mock.Anything, int64(42)).Return(model.Order{
		ID: 42, UserID: 7, Status: model.OrderStatusPending,
	}, nil)
	otpsRepo.On("FindLiveByOrderID", mock.Anything, int64(42)).Return(model.OtpChallenge{}, repo.ErrNotFound)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	// 消費済みコードの再送もここに落ちる
	_, err := uc.ConfirmDeliveryWithOtp(ctx, 7, 42, "123456")

	var mismatch *usecase.OtpMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

// =====================
// 照会系
// =====================

func TestCheckStatusWithGateway_DoesNotMutate(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	payments.On("FindByTransactionCode", mock.Anything, "txn-1").Return(model.Payment{
		ID: 9, OrderID: 42, TransactionCode: strPtr("txn-1"), Status: model.PaymentStatusPending,
	}, nil)
	gw.On("CheckStatus", mock.Anything, "txn-1").Return(usecase.GatewayResult{
		TransactionCode: "txn-1",
		Status:          usecase.GatewayStatusSuccess,
	}, nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	out, err := uc.CheckStatusWithGateway(ctx, "txn-1")
	assert.NoError(t, err)
	assert.Equal(t, "PENDING", out.LocalStatus)
	assert.Equal(t, "success", out.GatewayStatus)

	// 照会はローカル状態を変えない
	tx.AssertNotCalled(t, "WithinTx", mock.Anything)
	payments.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestFindStalePending(t *testing.T) {
	ctx := context.Background()

	tx := new(TxManagerMock)
	payments := new(PaymentRepoMock)
	addresses := new(AddressRepoMock)
	gw := new(GatewayMock)
	notifier := new(NotifierMock)

	payments.On("ListStalePending", mock.Anything, mock.MatchedBy(func(before time.Time) bool {
		return before.Before(time.Now())
	})).Return([]model.Payment{
		{ID: 9, OrderID: 42, Status: model.PaymentStatusPending},
		{ID: 10, OrderID: 43, Status: model.PaymentStatusAwaitingDelivery},
	}, nil)

	uc := newPaymentUsecase(tx, payments, addresses, gw, notifier)

	outs, err := uc.FindStalePending(ctx, 30)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(outs))

	outs, err = uc.FindStalePending(ctx, 0)
	assert.Equal(t, 0, len(outs))
	assertErrContains(t, err, "invalid threshold")
}
