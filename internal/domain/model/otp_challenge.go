package model

import "time"

// 受取確認用のワンタイムコード。注文ごとに生きているのは常に1件まで。
// コードは平文では保存しない（bcryptハッシュ）。
type OtpChallenge struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64     `gorm:"not null;index" json:"order_id"`
	CodeHash  string    `gorm:"type:varchar(100);not null" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	Consumed  bool      `gorm:"not null;default:false" json:"consumed"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

// 期限切れか
func (c OtpChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
