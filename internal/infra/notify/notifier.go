package notify

import (
	"context"

	"go.uber.org/zap"
)

// SMS等の実配送は別システム。ここではログに出すだけの実装。
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendOtp(ctx context.Context, orderID int64, phone string, code string) error {
	//コード本体はdebugにだけ出す
	n.logger.Info("sending delivery otp",
		zap.Int64("order_id", orderID),
		zap.String("phone", maskPhone(phone)),
	)
	n.logger.Debug("delivery otp code", zap.Int64("order_id", orderID), zap.String("code", code))
	return nil
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
