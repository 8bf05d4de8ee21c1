package repository

import (
	"context"
	"time"

	"app/internal/domain/model"
)

type PaymentRepository interface {
	Create(ctx context.Context, p model.Payment) (int64, error)
	FindByID(ctx context.Context, paymentID int64) (model.Payment, error)
	FindByOrderID(ctx context.Context, orderID int64) (model.Payment, error)
	FindByTransactionCode(ctx context.Context, code string) (model.Payment, error)

	//行ロック付き取得。集約（注文＋支払い）単位の排他はこのロックで取る。
	//トランザクション内でのみ呼ぶこと。
	FindByIDForUpdate(ctx context.Context, paymentID int64) (model.Payment, error)
	FindByOrderIDForUpdate(ctx context.Context, orderID int64) (model.Payment, error)

	//ロックを取った行をまるごと保存する
	Update(ctx context.Context, p model.Payment) error

	//しきい値より古いPENDING/AWAITING_DELIVERYを返す（突き合わせ用の読み取り専用）
	ListStalePending(ctx context.Context, before time.Time) ([]model.Payment, error)
}
