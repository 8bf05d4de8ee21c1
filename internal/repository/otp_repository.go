package repository

import (
	"context"

	"app/internal/domain/model"
)

type OtpRepository interface {
	Create(ctx context.Context, c model.OtpChallenge) (int64, error)

	//未消費の最新チャレンジを1件返す
	FindLiveByOrderID(ctx context.Context, orderID int64) (model.OtpChallenge, error)

	//未消費のチャレンジをすべて無効化する（再発行前に呼ぶ）
	InvalidateByOrderID(ctx context.Context, orderID int64) error

	MarkConsumed(ctx context.Context, challengeID int64) error
}
