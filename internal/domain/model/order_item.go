package model

import "time"

// 注文明細。作成時のスナップショットで、以後変更しない。
type OrderItem struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID           int64     `gorm:"not null;index" json:"order_id"`
	VariantID         int64     `gorm:"not null;index" json:"variant_id"`
	NameSnapshot      string    `gorm:"type:varchar(255);not null" json:"name_snapshot"`
	UnitPriceSnapshot int64     `gorm:"not null" json:"unit_price_snapshot"`
	Quantity          int64     `gorm:"not null" json:"quantity"`
	LineTotal         int64     `gorm:"not null" json:"line_total"`
	CreatedAt         time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
