package model

import (
	"time"

	"gorm.io/gorm"
)

// 商品バリアント。価格スナップショットと在庫の参照元。
// カタログCRUDは別システムの責務なのでここでは読み取りと在庫増減だけを扱う。
type ProductVariant struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	SKU       string         `gorm:"type:varchar(100);not null;uniqueIndex" json:"sku"`
	Name      string         `gorm:"type:varchar(255);not null" json:"name"`
	Price     int64          `gorm:"not null" json:"price"`
	Stock     int64          `gorm:"not null" json:"stock"`
	IsActive  bool           `gorm:"not null;default:false" json:"is_active"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
