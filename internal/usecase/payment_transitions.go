package usecase

import (
	"context"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

// 遷移イベント名（エラーと履歴に使う）
const (
	eventSelectMethod   = "selectPaymentMethod"
	eventGatewaySuccess = "gatewaySuccess"
	eventGatewayFailure = "gatewayFailure"
	eventCancelPayment  = "cancelPayment"
	eventCancelOrder    = "cancelOrder"
	eventConfirmCod     = "confirmCod"
	eventRejectCod      = "rejectCod"
	eventReattemptCod   = "reattemptCod"
	eventOtpVerified    = "otpVerified"
)

// 支払いの遷移表。ここにない辺はInvalidStateTransitionError。
// AWAITING_DELIVERY/REJECTEDはPENDINGの下位状態（COD）。
var paymentTransitions = map[model.PaymentStatus]map[model.PaymentStatus]bool{
	model.PaymentStatusPending: {
		model.PaymentStatusCompleted:        true,
		model.PaymentStatusFailed:           true,
		model.PaymentStatusCancelled:        true,
		model.PaymentStatusAwaitingDelivery: true,
	},
	model.PaymentStatusAwaitingDelivery: {
		model.PaymentStatusCompleted: true,
		model.PaymentStatusRejected:  true,
		model.PaymentStatusCancelled: true,
	},
	model.PaymentStatusRejected: {
		model.PaymentStatusAwaitingDelivery: true,
		//注文キャンセルに連動するときだけ使う辺
		model.PaymentStatusCancelled: true,
	},
}

func canTransitionPayment(from, to model.PaymentStatus) bool {
	return paymentTransitions[from][to]
}

// ステータス書き込みと履歴追記を同じトランザクションで行う。
// 呼び出し側はpの行ロックを取っていること。
func applyPaymentTransition(ctx context.Context, r repo.TxRepos, p *model.Payment, to model.PaymentStatus, event, note string) error {
	if !canTransitionPayment(p.Status, to) {
		return &InvalidStateTransitionError{From: string(p.Status), Event: event}
	}

	p.Status = to
	if to == model.PaymentStatusCompleted {
		now := time.Now()
		p.CompletedAt = &now
	}

	if err := r.Payments().Update(ctx, *p); err != nil {
		return err
	}
	return r.PaymentHistories().Create(ctx, model.PaymentHistory{
		PaymentID: p.ID,
		Status:    to,
		Note:      note,
	})
}

// オンライン決済完了の反映。注文はPENDINGからCONFIRMEDへ進む。
func confirmOrderForPayment(ctx context.Context, r repo.TxRepos, orderID int64) error {
	o, err := r.Orders().FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != model.OrderStatusPending {
		return nil
	}
	return r.Orders().UpdateStatus(ctx, orderID, model.OrderStatusConfirmed)
}

// 受取確認（COD）の反映。配達完了なので注文はCOMPLETEDまで進める。
func completeOrderForPayment(ctx context.Context, r repo.TxRepos, orderID int64) error {
	o, err := r.Orders().FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status == model.OrderStatusPending {
		if err := r.Orders().UpdateStatus(ctx, orderID, model.OrderStatusConfirmed); err != nil {
			return err
		}
		o.Status = model.OrderStatusConfirmed
	}
	if o.Status != model.OrderStatusConfirmed {
		return nil
	}
	return r.Orders().UpdateStatus(ctx, orderID, model.OrderStatusCompleted)
}

// 支払い方法の確定。注文作成時に方法が決まっている場合と、
// 後からcreatePaymentで選ぶ場合の両方から呼ばれる。
func initializePayment(ctx context.Context, r repo.TxRepos, gw PaymentGateway, p *model.Payment, method model.PaymentMethod, newTransactionCode func() string) error {
	switch method {
	case model.PaymentMethodOnline:
		code := newTransactionCode()
		p.Method = model.PaymentMethodOnline
		p.TransactionCode = &code

		//リダイレクトURLは決定的に組み立てられる（ネットワーク不要）
		redirect, err := gw.BuildRedirectURL(ctx, *p)
		if err != nil {
			return err
		}
		p.RedirectURL = redirect

		if err := r.Payments().Update(ctx, *p); err != nil {
			return err
		}
		return r.PaymentHistories().Create(ctx, model.PaymentHistory{
			PaymentID: p.ID,
			Status:    model.PaymentStatusPending,
			Note:      "online payment initiated",
		})

	case model.PaymentMethodCOD:
		p.Method = model.PaymentMethodCOD
		return applyPaymentTransition(ctx, r, p, model.PaymentStatusAwaitingDelivery, eventSelectMethod, "cash on delivery selected")

	default:
		return NewValidationError("invalid payment method: %s", method)
	}
}
