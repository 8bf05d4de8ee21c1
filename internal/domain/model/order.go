package model

import "time"

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// 終端ステータスか
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// 注文。金額は作成時に確定して以後再計算しない。
// total_amount = Σ(unit_price_snapshot × quantity) + shipping_fee − discount
type Order struct {
	ID          int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64       `gorm:"not null;index" json:"user_id"`
	AddressID   int64       `gorm:"not null" json:"address_id"`
	Status      OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ShippingFee int64       `gorm:"not null" json:"shipping_fee"`
	Discount    int64       `gorm:"not null" json:"discount"`
	TotalAmount int64       `gorm:"not null" json:"total_amount"`
	CouponCode  string      `gorm:"type:varchar(50)" json:"coupon_code,omitempty"`
	CreatedAt   time.Time   `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
