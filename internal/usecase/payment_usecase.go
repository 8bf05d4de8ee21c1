package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	otpCodeLength = 6

	//拒否後の再配達は3回まで
	maxCodReattempts = 3
)

type PaymentUsecase struct {
	tx        repo.TransactionManager
	payments  repo.PaymentRepository
	addresses repo.AddressRepository
	gateway   PaymentGateway
	notifier  Notifier
	newTxCode func() string
	otpTTL    time.Duration
	logger    *zap.Logger
}

func NewPaymentUsecase(
	tx repo.TransactionManager,
	payments repo.PaymentRepository,
	addresses repo.AddressRepository,
	gateway PaymentGateway,
	notifier Notifier,
	newTxCode func() string,
	otpTTL time.Duration,
	logger *zap.Logger,
) *PaymentUsecase {
	return &PaymentUsecase{
		tx:        tx,
		payments:  payments,
		addresses: addresses,
		gateway:   gateway,
		notifier:  notifier,
		newTxCode: newTxCode,
		otpTTL:    otpTTL,
		logger:    logger,
	}
}

// 方法未選択のまま作られた注文の支払い方法を確定する。
func (u *PaymentUsecase) CreatePayment(ctx context.Context, userID int64, orderID int64, method string) (PaymentOutput, error) {
	if userID <= 0 {
		return PaymentOutput{}, NewValidationError("invalid user")
	}
	if orderID <= 0 {
		return PaymentOutput{}, NewValidationError("invalid id")
	}
	m := model.PaymentMethod(method)
	if m != model.PaymentMethodOnline && m != model.PaymentMethodCOD {
		return PaymentOutput{}, NewValidationError("invalid payment method: %s", method)
	}

	var out PaymentOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Payments().FindByOrderIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return &NotFoundError{Resource: "order"}
		}
		if err != nil {
			return err
		}

		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return &NotFoundError{Resource: "order"}
		}

		if o.Status != model.OrderStatusPending {
			return &InvalidStateTransitionError{From: string(o.Status), Event: eventSelectMethod}
		}
		if p.Method != "" || p.Status != model.PaymentStatusPending {
			return &InvalidStateTransitionError{From: string(p.Status), Event: eventSelectMethod, Reason: "method already selected"}
		}

		if err := initializePayment(ctx, r, u.gateway, &p, m, u.newTxCode); err != nil {
			return err
		}
		out = toPaymentOutput(p, nil)
		return nil
	})

	if err != nil {
		return PaymentOutput{}, err
	}

	u.logger.Info("payment method selected",
		zap.Int64("order_id", orderID),
		zap.String("method", method),
	)
	return out, nil
}

// ブラウザリダイレクト（callback）の受付。検証はロックの外で行う。
func (u *PaymentUsecase) ConfirmCallback(ctx context.Context, params map[string]string) (PaymentOutput, error) {
	res, err := u.gateway.VerifyCallback(ctx, params)
	if err != nil {
		u.logGatewayError("callback", err)
		return PaymentOutput{}, err
	}
	return u.applyGatewayEvent(ctx, res, "callback")
}

// サーバ間通知（webhook）の受付。検証はロックの外で行う。
func (u *PaymentUsecase) ConfirmWebhook(ctx context.Context, payload WebhookPayload) (PaymentOutput, error) {
	res, err := u.gateway.VerifyWebhook(ctx, payload)
	if err != nil {
		u.logGatewayError("webhook", err)
		return PaymentOutput{}, err
	}
	return u.applyGatewayEvent(ctx, res, "webhook")
}

// 検証済みイベントの適用。(transactionCode, status)で識別し、
// 同じイベントの再送は何もせず現在の状態を返す。
func (u *PaymentUsecase) applyGatewayEvent(ctx context.Context, res GatewayResult, source string) (PaymentOutput, error) {
	var target model.PaymentStatus
	var event string
	switch res.Status {
	case GatewayStatusSuccess:
		target = model.PaymentStatusCompleted
		event = eventGatewaySuccess
	case GatewayStatusFailed:
		target = model.PaymentStatusFailed
		event = eventGatewayFailure
	default:
		return PaymentOutput{}, NewValidationError("unknown gateway status: %s", res.Status)
	}

	var out PaymentOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		found, err := r.Payments().FindByTransactionCode(ctx, res.TransactionCode)
		if errors.Is(err, repo.ErrNotFound) {
			return &NotFoundError{Resource: "payment"}
		}
		if err != nil {
			return err
		}

		//ここからは行ロックの下で
		p, err := r.Payments().FindByIDForUpdate(ctx, found.ID)
		if err != nil {
			return err
		}

		//再送イベントはno-op
		if p.Status == target {
			out = toPaymentOutput(p, nil)
			return nil
		}

		//終端と矛盾する報告は履歴にメモだけ残し、状態は変えない
		if p.Status.Terminal() {
			note := fmt.Sprintf("conflicting %s report ignored: status=%s reason=%s", source, res.Status, res.Reason)
			if err := r.PaymentHistories().Create(ctx, model.PaymentHistory{
				PaymentID: p.ID,
				Status:    p.Status,
				Note:      note,
			}); err != nil {
				return err
			}
			u.logger.Warn("conflicting gateway report",
				zap.Int64("payment_id", p.ID),
				zap.String("current_status", string(p.Status)),
				zap.String("reported_status", string(res.Status)),
			)
			out = toPaymentOutput(p, nil)
			return nil
		}

		note := source
		if res.Reason != "" {
			note = source + ": " + res.Reason
		}
		if err := applyPaymentTransition(ctx, r, &p, target, event, note); err != nil {
			return err
		}

		if target == model.PaymentStatusCompleted {
			if err := confirmOrderForPayment(ctx, r, p.OrderID); err != nil {
				return err
			}
		}

		out = toPaymentOutput(p, nil)
		return nil
	})

	if err != nil {
		return PaymentOutput{}, err
	}

	u.logger.Info("gateway event applied",
		zap.String("source", source),
		zap.String("transaction_code", res.TransactionCode),
		zap.String("status", out.Status),
	)
	return out, nil
}

// 管理者による支払いキャンセル。PENDING/AWAITING_DELIVERYのみ。
func (u *PaymentUsecase) CancelPayment(ctx context.Context, adminUserID int64, paymentID int64) (PaymentOutput, error) {
	if paymentID <= 0 {
		return PaymentOutput{}, NewValidationError("invalid id")
	}

	var out PaymentOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Payments().FindByIDForUpdate(ctx, paymentID)
		if errors.Is(err, repo.ErrNotFound) {
			return &NotFoundError{Resource: "payment"}
		}
		if err != nil {
			return err
		}

		//完了済みはキャンセル不可（REJECTEDも直接のキャンセル対象外）
		if p.Status != model.PaymentStatusPending && p.Status != model.PaymentStatusAwaitingDelivery {
			return &InvalidStateTransitionError{From: string(p.Status), Event: eventCancelPayment}
		}

		before := p.Status
		if err := applyPaymentTransition(ctx, r, &p, model.PaymentStatusCancelled, eventCancelPayment, "cancelled by admin"); err != nil {
			return err
		}

		if err := u.auditPayment(ctx, r, adminUserID, p.ID, before, model.PaymentStatusCancelled); err != nil {
			return err
		}

		out = toPaymentOutput(p, nil)
		return nil
	})

	if err != nil {
		return PaymentOutput{}, err
	}
	return out, nil
}

// 配達員/管理者による受取確認（COD）。支払いと注文を完了させる。
func (u *PaymentUsecase) ConfirmCodPayment(ctx context.Context, adminUserID int64, paymentID int64, note string) (PaymentOutput, error) {
	if paymentID <= 0 {
		return PaymentOutput{}, NewValidationError("invalid id")
	}

	var out PaymentOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Payments().FindByIDForUpdate(ctx, paymentID)
		if errors.Is(err, repo.ErrNotFound) {
			return &NotFoundError{Resource: "payment"}
		}
		if err != nil {
			return err
		}

		//現金回収はAWAITING_DELIVERYからだけ
		if p.Status != model.PaymentStatusAwaitingDelivery {
			return &InvalidStateTransitionError{From: string(p.Status), Event: eventConfirmCod}
		}

		before := p.Status
		if note == "" {
			note = "cash collected on delivery"
		}
		if err := applyPaymentTransition(ctx, r, &p, model.PaymentStatusCompleted, eventConfirmCod, note); err != nil {
			return err
		}
		if err := completeOrderForPayment(ctx, r, p.OrderID); err != nil {
			return err
		}

		if err := u.auditPayment(ctx, r, adminUserID, p.ID, before, model.PaymentStatusCompleted); err != nil {
			return err
		}

		out = toPaymentOutput(p, nil)
		return nil
	})

	if err != nil {
		return PaymentOutput{}, err
	}
	return out, nil
}

// 受取拒否（COD）
func (u *PaymentUsecase) RejectCodPayment(ctx context.Context, adminUserID int64, paymentID int64, reason, note string) (PaymentOutput, error) {
	if paymentID <= 0 {
		return PaymentOutput{}, NewValidationError("invalid id")
	}
	if reason == "" {
		return PaymentOutput{}, NewValidationError("reason required")
	}

	var out PaymentOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Payments().FindByIDForUpdate(ctx, paymentID)
		if errors.Is(err, repo.ErrNotFound) {
			return &NotFoundError{Resource: "payment"}
		}
		if err != nil {
			return err
		}

		if p.Status != model.PaymentStatusAwaitingDelivery {
			return &InvalidStateTransitionError{From: string(p.Status), Event: eventRejectCod}
		}

		before := p.Status
		historyNote := reason
		if note != "" {
			historyNote = reason + ": " + note
		}
		if err := applyPaymentTransition(ctx, r, &p, model.PaymentStatusRejected, eventRejectCod, historyNote); err != nil {
			return err
		}

		if err := u.auditPayment(ctx, r, adminUserID, p.ID, before, model.PaymentStatusRejected); err != nil {
			return err
		}

		out = toPaymentOutput(p, nil)
		return nil
	})

	if err != nil {
		return PaymentOutput{}, err
	}
	return out, nil
}

// 再配達。拒否された支払いをもう一度AWAITING_DELIVERYへ戻す。
func (u *PaymentUsecase) ReattemptCodDelivery(ctx context.Context, adminUserID int64, paymentID int64) (PaymentOutput, error) {
	if paymentID <= 0 {
		return PaymentOutput{}, NewValidationError("invalid id")
	}

	var out PaymentOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Payments().FindByIDForUpdate(ctx, paymentID)
		if errors.Is(err, repo.ErrNotFound) {
			return &NotFoundError{Resource: "payment"}
		}
		if err != nil {
			return err
		}

		//PENDING→AWAITING_DELIVERYの辺は方法選択用なので、ここではREJECTEDだけ通す
		if p.Status != model.PaymentStatusRejected {
			return &InvalidStateTransitionError{From: string(p.Status), Event: eventReattemptCod}
		}
		if p.CodAttempts >= maxCodReattempts {
			return &InvalidStateTransitionError{From: string(p.Status), Event: eventReattemptCod, Reason: "reattempt limit reached"}
		}

		before := p.Status
		p.CodAttempts++
		if err := applyPaymentTransition(ctx, r, &p, model.PaymentStatusAwaitingDelivery, eventReattemptCod, "delivery reattempt scheduled"); err != nil {
			return err
		}

		if err := u.auditPayment(ctx, r, adminUserID, p.ID, before, model.PaymentStatusAwaitingDelivery); err != nil {
			return err
		}

		out = toPaymentOutput(p, nil)
		return nil
	})

	if err != nil {
		return PaymentOutput{}, err
	}
	return out, nil
}

// 受取確認用OTPの発行。注文ごとに生きているコードは常に1件。
func (u *PaymentUsecase) SendDeliveryConfirmationOtp(ctx context.Context, userID int64, orderID int64) error {
	if userID <= 0 {
		return NewValidationError("invalid user")
	}
	if orderID <= 0 {
		return NewValidationError("invalid id")
	}

	code, err := generateOtpCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	var phone string

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//発行もロックの下で行い、生きたコードが2本できないようにする
		p, err := r.Payments().FindByOrderIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return &NotFoundError{Resource: "order"}
		}
		if err != nil {
			return err
		}

		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return &NotFoundError{Resource: "order"}
		}

		if p.Status != model.PaymentStatusAwaitingDelivery {
			return &InvalidStateTransitionError{From: string(p.Status), Event: "sendDeliveryConfirmationOtp"}
		}

		addr, err := u.addresses.FindByID(ctx, o.AddressID)
		if err != nil {
			return err
		}
		phone = addr.Phone

		//前のコードを無効化してから作る
		if err := r.Otps().InvalidateByOrderID(ctx, orderID); err != nil {
			return err
		}
		_, err = r.Otps().Create(ctx, model.OtpChallenge{
			OrderID:   orderID,
			CodeHash:  string(hash),
			ExpiresAt: time.Now().Add(u.otpTTL),
		})
		return err
	})

	if err != nil {
		return err
	}

	//送信はロックの外
	if err := u.notifier.SendOtp(ctx, orderID, phone, code); err != nil {
		u.logger.Error("otp send failed", zap.Int64("order_id", orderID), zap.Error(err))
		return err
	}

	u.logger.Info("delivery otp issued", zap.Int64("order_id", orderID))
	return nil
}

// OTPによる受取確認。成功で支払いと注文を完了させる。
func (u *PaymentUsecase) ConfirmDeliveryWithOtp(ctx context.Context, userID int64, orderID int64, code string) (PaymentOutput, error) {
	if userID <= 0 {
		return PaymentOutput{}, NewValidationError("invalid user")
	}
	if orderID <= 0 {
		return PaymentOutput{}, NewValidationError("invalid id")
	}
	if len(code) != otpCodeLength {
		return PaymentOutput{}, &OtpMismatchError{}
	}

	var out PaymentOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		p, err := r.Payments().FindByOrderIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return &NotFoundError{Resource: "order"}
		}
		if err != nil {
			return err
		}

		o, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return &NotFoundError{Resource: "order"}
		}

		if p.Status != model.PaymentStatusAwaitingDelivery {
			return &InvalidStateTransitionError{From: string(p.Status), Event: eventOtpVerified}
		}

		ch, err := r.Otps().FindLiveByOrderID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			//消費済みコードの再送もここに落ちる
			return &OtpMismatchError{}
		}
		if err != nil {
			return err
		}

		//期限切れチェックは検証時の壁時計比較（バックグラウンドタイマーは持たない）
		if ch.Expired(time.Now()) {
			return &OtpExpiredError{}
		}

		if bcrypt.CompareHashAndPassword([]byte(ch.CodeHash), []byte(code)) != nil {
			//不一致ではチャレンジを消費しない
			return &OtpMismatchError{}
		}

		//一致したら一度きりで消費
		if err := r.Otps().MarkConsumed(ctx, ch.ID); err != nil {
			return err
		}

		if err := applyPaymentTransition(ctx, r, &p, model.PaymentStatusCompleted, eventOtpVerified, "delivery confirmed with otp"); err != nil {
			return err
		}
		if err := completeOrderForPayment(ctx, r, p.OrderID); err != nil {
			return err
		}

		out = toPaymentOutput(p, nil)
		return nil
	})

	if err != nil {
		return PaymentOutput{}, err
	}

	u.logger.Info("delivery confirmed with otp", zap.Int64("order_id", orderID))
	return out, nil
}

type GatewayStatusOutput struct {
	TransactionCode string `json:"transaction_code"`
	LocalStatus     string `json:"local_status"`
	GatewayStatus   string `json:"gateway_status"`
	Reason          string `json:"reason,omitempty"`
}

// ゲートウェイへの同期照会。ローカル状態は変更しない。
func (u *PaymentUsecase) CheckStatusWithGateway(ctx context.Context, transactionCode string) (GatewayStatusOutput, error) {
	if transactionCode == "" {
		return GatewayStatusOutput{}, NewValidationError("transaction code required")
	}

	p, err := u.payments.FindByTransactionCode(ctx, transactionCode)
	if errors.Is(err, repo.ErrNotFound) {
		return GatewayStatusOutput{}, &NotFoundError{Resource: "payment"}
	}
	if err != nil {
		return GatewayStatusOutput{}, err
	}

	res, err := u.gateway.CheckStatus(ctx, transactionCode)
	if err != nil {
		u.logGatewayError("status poll", err)
		return GatewayStatusOutput{}, err
	}

	return GatewayStatusOutput{
		TransactionCode: transactionCode,
		LocalStatus:     string(p.Status),
		GatewayStatus:   string(res.Status),
		Reason:          res.Reason,
	}, nil
}

// しきい値より古いPENDING/AWAITING_DELIVERYの一覧（読み取り専用）。
// 自動キャンセルはしない。対応はオペレーターの判断に委ねる。
func (u *PaymentUsecase) FindStalePending(ctx context.Context, thresholdMinutes int) ([]PaymentOutput, error) {
	if thresholdMinutes <= 0 {
		return []PaymentOutput{}, NewValidationError("invalid threshold")
	}

	before := time.Now().Add(-time.Duration(thresholdMinutes) * time.Minute)
	payments, err := u.payments.ListStalePending(ctx, before)
	if err != nil {
		return []PaymentOutput{}, err
	}

	outs := make([]PaymentOutput, 0, len(payments))
	for _, p := range payments {
		outs = append(outs, toPaymentOutput(p, nil))
	}
	return outs, nil
}

func (u *PaymentUsecase) auditPayment(ctx context.Context, r repo.TxRepos, adminUserID, paymentID int64, before, after model.PaymentStatus) error {
	if adminUserID <= 0 {
		return nil
	}
	return r.AuditLogs().Create(ctx, model.AuditLog{
		ActorUserID:  adminUserID,
		Action:       model.AuditActionUpdatePaymentStatus,
		ResourceType: model.AuditResourcePayment,
		ResourceID:   paymentID,
		BeforeJSON:   fmt.Sprintf(`{"status":%q}`, before),
		AfterJSON:    fmt.Sprintf(`{"status":%q}`, after),
		CreatedAt:    time.Now(),
	})
}

func (u *PaymentUsecase) logGatewayError(source string, err error) {
	var authErr *GatewayAuthenticityError
	if errors.As(err, &authErr) {
		u.logger.Warn("gateway authenticity check failed",
			zap.String("source", source),
			zap.String("reason", authErr.Reason),
		)
		return
	}
	u.logger.Error("gateway error", zap.String("source", source), zap.Error(err))
}

// 数字固定桁のOTPコード
func generateOtpCode() (string, error) {
	upper := big.NewInt(1)
	for i := 0; i < otpCodeLength; i++ {
		upper.Mul(upper, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpCodeLength, n), nil
}
