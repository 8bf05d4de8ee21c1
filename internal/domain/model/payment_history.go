package model

import "time"

// 支払い履歴。追記専用で、更新も削除もしない。
// 「いつ何が起きたか」の唯一の記録。
type PaymentHistory struct {
	ID        int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID int64         `gorm:"not null;index" json:"payment_id"`
	Status    PaymentStatus `gorm:"type:varchar(30);not null" json:"status"`
	Note      string        `gorm:"type:text" json:"note"`
	CreatedAt time.Time     `gorm:"not null;autoCreateTime" json:"created_at"`
}
