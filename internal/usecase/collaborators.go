package usecase

import (
	"context"

	"app/internal/domain/model"
)

// 決済ゲートウェイが報告してくる結果
type GatewayStatus string

const (
	GatewayStatusSuccess GatewayStatus = "success"
	GatewayStatusFailed  GatewayStatus = "failed"
	GatewayStatusPending GatewayStatus = "pending"
)

// 検証済みのゲートウェイイベント。(transactionCode, status)がイベントの識別子。
type GatewayResult struct {
	TransactionCode string
	Status          GatewayStatus
	Reason          string
}

// webhookの生ペイロード。境界で一度だけ閉じた形に詰め替える。
type WebhookPayload struct {
	Token         string `json:"token"`
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
}

// 決済ゲートウェイの窓口。Verify系は真正性NGならGatewayAuthenticityErrorを返す。
// どれもローカル状態は変更しない。ロックを持ったまま呼ばないこと。
type PaymentGateway interface {
	BuildRedirectURL(ctx context.Context, p model.Payment) (string, error)
	VerifyCallback(ctx context.Context, params map[string]string) (GatewayResult, error)
	VerifyWebhook(ctx context.Context, payload WebhookPayload) (GatewayResult, error)
	CheckStatus(ctx context.Context, transactionCode string) (GatewayResult, error)
}

// クーポン検証。codeが空なら割引0。
type CouponService interface {
	Discount(ctx context.Context, code string, subtotal int64) (int64, error)
}

// 配送料計算
type ShippingService interface {
	Fee(ctx context.Context, method string, subtotal int64) (int64, error)
}

// OTPの通知送信
type Notifier interface {
	SendOtp(ctx context.Context, orderID int64, phone string, code string) error
}

// 固定テーブルの配送料。外部サービス連携までは不要な環境向け。
type StaticShippingService struct {
	Fees map[string]int64
}

func NewStaticShippingService() *StaticShippingService {
	return &StaticShippingService{
		Fees: map[string]int64{
			"STANDARD": 500,
			"EXPRESS":  1200,
		},
	}
}

func (s *StaticShippingService) Fee(ctx context.Context, method string, subtotal int64) (int64, error) {
	fee, ok := s.Fees[method]
	if !ok {
		return 0, NewValidationError("unknown shipping method: %s", method)
	}
	return fee, nil
}

// 固定額クーポン
type StaticCouponService struct {
	Discounts map[string]int64
}

func NewStaticCouponService(discounts map[string]int64) *StaticCouponService {
	return &StaticCouponService{Discounts: discounts}
}

func (s *StaticCouponService) Discount(ctx context.Context, code string, subtotal int64) (int64, error) {
	if code == "" {
		return 0, nil
	}
	d, ok := s.Discounts[code]
	if !ok {
		return 0, NewValidationError("invalid coupon: %s", code)
	}
	if d > subtotal {
		d = subtotal
	}
	return d, nil
}
