package repository

import (
	"context"

	"app/internal/domain/model"
)

// 住所(Address)の取得窓口。注文作成時の所有チェックに使う。
type AddressRepository interface {
	//住所IDから住所を1件取得
	FindByID(ctx context.Context, addressID int64) (model.Address, error)
}
