package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"go.uber.org/zap"
)

type OrderUsecase struct {
	tx        repo.TransactionManager
	addresses repo.AddressRepository
	coupons   CouponService
	shipping  ShippingService
	gateway   PaymentGateway
	newTxCode func() string
	logger    *zap.Logger
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	addresses repo.AddressRepository,
	coupons CouponService,
	shipping ShippingService,
	gateway PaymentGateway,
	newTxCode func() string,
	logger *zap.Logger,
) *OrderUsecase {
	return &OrderUsecase{
		tx:        tx,
		addresses: addresses,
		coupons:   coupons,
		shipping:  shipping,
		gateway:   gateway,
		newTxCode: newTxCode,
		logger:    logger,
	}
}

type OrderItemInput struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int64 `json:"quantity"`
}

type CreateOrderInput struct {
	AddressID      int64
	Items          []OrderItemInput
	ShippingMethod string
	CouponCode     string
	//""なら後からcreatePaymentで選ぶ
	PaymentMethod string
}

type OrderItemOutput struct {
	VariantID int64  `json:"variant_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type PaymentHistoryOutput struct {
	Status    string    `json:"status"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

type PaymentOutput struct {
	ID              int64                  `json:"id"`
	OrderID         int64                  `json:"order_id"`
	Method          string                 `json:"method"`
	Amount          int64                  `json:"amount"`
	TransactionCode string                 `json:"transaction_code,omitempty"`
	Status          string                 `json:"status"`
	RedirectURL     string                 `json:"redirect_url,omitempty"`
	CodAttempts     int                    `json:"cod_attempts"`
	History         []PaymentHistoryOutput `json:"history,omitempty"`
}

type OrderOutput struct {
	ID          int64             `json:"id"`
	UserID      int64             `json:"user_id"`
	Status      string            `json:"status"`
	ShippingFee int64             `json:"shipping_fee"`
	Discount    int64             `json:"discount"`
	TotalAmount int64             `json:"total_amount"`
	CreatedAt   time.Time         `json:"created_at"`
	Items       []OrderItemOutput `json:"items"`
	Payment     *PaymentOutput    `json:"payment,omitempty"`
}

// 注文作成。在庫予約・注文・明細・支払いを1トランザクションで確定する。
// 1行でも在庫が足りなければ全体を失敗させる（部分予約は残さない）。
func (u *OrderUsecase) CreateOrder(ctx context.Context, userID int64, in CreateOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewValidationError("invalid user")
	}
	if in.AddressID <= 0 {
		return OrderOutput{}, NewValidationError("invalid address_id")
	}
	if len(in.Items) == 0 {
		return OrderOutput{}, NewValidationError("items required")
	}
	for _, it := range in.Items {
		if it.VariantID <= 0 || it.Quantity <= 0 {
			return OrderOutput{}, NewValidationError("invalid item")
		}
	}
	method := model.PaymentMethod(in.PaymentMethod)
	if method != "" && method != model.PaymentMethodOnline && method != model.PaymentMethodCOD {
		return OrderOutput{}, NewValidationError("invalid payment method: %s", in.PaymentMethod)
	}

	//住所の存在確認＋所有チェック
	addr, err := u.addresses.FindByID(ctx, in.AddressID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return OrderOutput{}, &NotFoundError{Resource: "address"}
		}
		return OrderOutput{}, err
	}
	//他人の住所は「存在しない扱い」にする
	if addr.UserID != userID {
		return OrderOutput{}, &NotFoundError{Resource: "address"}
	}

	var out OrderOutput

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//在庫を確定時にチェックしながら減らす
		orderItems := make([]model.OrderItem, 0, len(in.Items))
		var subtotal int64 = 0

		for _, it := range in.Items {
			v, err := r.Variants().FindByID(ctx, it.VariantID)
			if errors.Is(err, repo.ErrNotFound) {
				return NewValidationError("unknown variant: %d", it.VariantID)
			}
			if err != nil {
				return err
			}
			if !v.IsActive {
				return NewValidationError("variant not available: %d", it.VariantID)
			}

			//予約（足りないならfalse、ロールバックで既約分も戻る）
			ok, err := r.Inventory().DecreaseStockIfEnough(ctx, it.VariantID, it.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return &InsufficientStockError{VariantID: it.VariantID}
			}

			//スナップショット
			orderItems = append(orderItems, model.OrderItem{
				VariantID:         it.VariantID,
				NameSnapshot:      v.Name,
				UnitPriceSnapshot: v.Price,
				Quantity:          it.Quantity,
				LineTotal:         v.Price * it.Quantity,
			})
			subtotal += v.Price * it.Quantity
		}

		fee, err := u.shipping.Fee(ctx, in.ShippingMethod, subtotal)
		if err != nil {
			return err
		}
		discount, err := u.coupons.Discount(ctx, in.CouponCode, subtotal)
		if err != nil {
			return err
		}

		//ここで確定した金額は以後再計算しない
		total := subtotal + fee - discount

		now := time.Now()
		orderID, err := r.Orders().Create(ctx, model.Order{
			UserID:      userID,
			AddressID:   in.AddressID,
			Status:      model.OrderStatusPending,
			ShippingFee: fee,
			Discount:    discount,
			TotalAmount: total,
			CouponCode:  in.CouponCode,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}

		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return err
		}

		//予約の履歴
		for _, oi := range orderItems {
			if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
				VariantID: oi.VariantID,
				OrderID:   orderID,
				Delta:     -oi.Quantity,
				Reason:    model.InventoryReasonReserve,
			}); err != nil {
				return err
			}
		}

		//支払いは注文と同時に作る（1対1）
		p := model.Payment{
			OrderID: orderID,
			Amount:  total,
			Status:  model.PaymentStatusPending,
		}
		paymentID, err := r.Payments().Create(ctx, p)
		if err != nil {
			return err
		}
		p.ID = paymentID

		if method != "" {
			if err := initializePayment(ctx, r, u.gateway, &p, method, u.newTxCode); err != nil {
				return err
			}
		}

		created := model.Order{
			ID:          orderID,
			UserID:      userID,
			AddressID:   in.AddressID,
			Status:      model.OrderStatusPending,
			ShippingFee: fee,
			Discount:    discount,
			TotalAmount: total,
			CreatedAt:   now,
		}
		out = toOrderOutput(created, orderItems, &p, nil)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}

	u.logger.Info("order created",
		zap.Int64("order_id", out.ID),
		zap.Int64("user_id", userID),
		zap.Int64("total_amount", out.TotalAmount),
		zap.String("payment_method", in.PaymentMethod),
	)
	return out, nil
}

// 注文キャンセル。PENDING/CONFIRMEDのみ。
// 支払いのキャンセル・在庫戻し・注文ステータス更新を1トランザクションで行う。
// 在庫戻しに失敗したらキャンセル自体を失敗させる（握りつぶさない）。
func (u *OrderUsecase) CancelOrder(ctx context.Context, actorUserID int64, isAdmin bool, orderID int64, reason string) error {
	if orderID <= 0 {
		return NewValidationError("invalid id")
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//集約ロック（支払い行）を先に取る
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
		if !isAdmin && o.UserID != actorUserID {
			return &NotFoundError{Resource: "order"}
		}

		if o.Status != model.OrderStatusPending && o.Status != model.OrderStatusConfirmed {
			return &InvalidStateTransitionError{From: string(o.Status), Event: eventCancelOrder}
		}

		if !p.Status.Terminal() {
			note := reason
			if note == "" {
				note = "order cancelled"
			}
			if err := applyPaymentTransition(ctx, r, &p, model.PaymentStatusCancelled, eventCancelOrder, note); err != nil {
				return err
			}
		}

		//在庫戻し。ステータスガードの後なので二重戻しは起きない。
		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if err := r.Inventory().IncreaseStock(ctx, it.VariantID, it.Quantity); err != nil {
				return err
			}
			if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
				VariantID: it.VariantID,
				OrderID:   orderID,
				Delta:     it.Quantity,
				Reason:    model.InventoryReasonRestore,
			}); err != nil {
				return err
			}
		}

		if err := r.Orders().UpdateStatus(ctx, orderID, model.OrderStatusCancelled); err != nil {
			return err
		}

		if isAdmin {
			beforeJSON := fmt.Sprintf(`{"status":%q}`, o.Status)
			afterJSON := fmt.Sprintf(`{"status":%q,"reason":%q}`, model.OrderStatusCancelled, reason)
			if err := r.AuditLogs().Create(ctx, model.AuditLog{
				ActorUserID:  actorUserID,
				Action:       model.AuditActionUpdateOrderStatus,
				ResourceType: model.AuditResourceOrder,
				ResourceID:   orderID,
				BeforeJSON:   beforeJSON,
				AfterJSON:    afterJSON,
				CreatedAt:    time.Now(),
			}); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return err
	}

	u.logger.Info("order cancelled",
		zap.Int64("order_id", orderID),
		zap.Int64("actor_user_id", actorUserID),
		zap.String("reason", reason),
	)
	return nil
}

// 管理者による注文完了。支払いがCOMPLETEDであることが前提。
func (u *OrderUsecase) CompleteOrder(ctx context.Context, adminUserID int64, orderID int64) error {
	if adminUserID <= 0 {
		return NewValidationError("invalid user")
	}
	if orderID <= 0 {
		return NewValidationError("invalid id")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
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

		//注文は支払いより先に完了しない
		if p.Status != model.PaymentStatusCompleted {
			return &InvalidStateTransitionError{From: string(o.Status), Event: "completeOrder", Reason: "payment not completed"}
		}
		if o.Status != model.OrderStatusConfirmed {
			return &InvalidStateTransitionError{From: string(o.Status), Event: "completeOrder"}
		}

		if err := r.Orders().UpdateStatus(ctx, orderID, model.OrderStatusCompleted); err != nil {
			return err
		}

		beforeJSON := fmt.Sprintf(`{"status":%q}`, o.Status)
		afterJSON := fmt.Sprintf(`{"status":%q}`, model.OrderStatusCompleted)
		return r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  adminUserID,
			Action:       model.AuditActionUpdateOrderStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			BeforeJSON:   beforeJSON,
			AfterJSON:    afterJSON,
			CreatedAt:    time.Now(),
		})
	})
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return []OrderOutput{}, NewValidationError("invalid user")
	}

	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
		if err != nil {
			return err
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return err
			}
			outs = append(outs, toOrderOutput(o, items, nil, nil))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewValidationError("invalid user")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewValidationError("invalid id")
	}

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return &NotFoundError{Resource: "order"}
		}
		if err != nil {
			return err
		}
		//他人の注文は「存在しない扱い」にする
		if o.UserID != userID {
			return &NotFoundError{Resource: "order"}
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		p, err := r.Payments().FindByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		history, err := r.PaymentHistories().ListByPaymentID(ctx, p.ID)
		if err != nil {
			return err
		}

		out = toOrderOutput(o, items, &p, history)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// 管理者用の注文一覧
func (u *OrderUsecase) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]OrderOutput, error) {
	if f.Page < 1 {
		return []OrderOutput{}, NewValidationError("invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return []OrderOutput{}, NewValidationError("invalid limit")
	}

	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListAdmin(ctx, f)
		if err != nil {
			return err
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return err
			}
			outs = append(outs, toOrderOutput(o, items, nil, nil))
		}
		return nil
	})

	if err != nil {
		return []OrderOutput{}, err
	}
	return outs, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem, p *model.Payment, history []model.PaymentHistory) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			VariantID: it.VariantID,
			Name:      it.NameSnapshot,
			UnitPrice: it.UnitPriceSnapshot,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal,
		})
	}

	out := OrderOutput{
		ID:          o.ID,
		UserID:      o.UserID,
		Status:      string(o.Status),
		ShippingFee: o.ShippingFee,
		Discount:    o.Discount,
		TotalAmount: o.TotalAmount,
		CreatedAt:   o.CreatedAt,
		Items:       outItems,
	}
	if p != nil {
		po := toPaymentOutput(*p, history)
		out.Payment = &po
	}
	return out
}

func toPaymentOutput(p model.Payment, history []model.PaymentHistory) PaymentOutput {
	out := PaymentOutput{
		ID:          p.ID,
		OrderID:     p.OrderID,
		Method:      string(p.Method),
		Amount:      p.Amount,
		Status:      string(p.Status),
		RedirectURL: p.RedirectURL,
		CodAttempts: p.CodAttempts,
	}
	if p.TransactionCode != nil {
		out.TransactionCode = *p.TransactionCode
	}
	for _, h := range history {
		out.History = append(out.History, PaymentHistoryOutput{
			Status:    string(h.Status),
			Note:      h.Note,
			CreatedAt: h.CreatedAt,
		})
	}
	return out
}
