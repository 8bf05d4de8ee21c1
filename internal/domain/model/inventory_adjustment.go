package model

import "time"

// 在庫増減の履歴（予約・戻し・管理者調整）

const (
	InventoryReasonReserve = "ORDER_RESERVE"
	InventoryReasonRestore = "ORDER_RESTORE"
)

type InventoryAdjustment struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	VariantID int64     `gorm:"not null;index" json:"variant_id"`
	OrderID   int64     `gorm:"index" json:"order_id"`
	Delta     int64     `gorm:"not null" json:"delta"`
	Reason    string    `gorm:"type:varchar(255);not null" json:"reason"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
