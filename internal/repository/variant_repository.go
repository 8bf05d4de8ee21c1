package repository

import (
	"context"

	"app/internal/domain/model"
)

// バリアントは読み取りだけ。在庫の増減はInventoryRepositoryを通す。
type VariantRepository interface {
	FindByID(ctx context.Context, variantID int64) (model.ProductVariant, error)
}
