package model

import "time"

type PaymentMethod string

const (
	PaymentMethodOnline PaymentMethod = "ONLINE"
	PaymentMethodCOD    PaymentMethod = "COD"
)

type PaymentStatus string

const (
	PaymentStatusPending          PaymentStatus = "PENDING"
	PaymentStatusAwaitingDelivery PaymentStatus = "AWAITING_DELIVERY"
	PaymentStatusRejected         PaymentStatus = "REJECTED"
	PaymentStatusCompleted        PaymentStatus = "COMPLETED"
	PaymentStatusFailed           PaymentStatus = "FAILED"
	PaymentStatusCancelled        PaymentStatus = "CANCELLED"
)

// 終端ステータスか（AWAITING_DELIVERY/REJECTEDはPENDING系なので含めない）
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusCancelled
}

// 支払い。注文と1対1で、注文作成と同じトランザクションで作る。
type Payment struct {
	ID              int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID         int64         `gorm:"not null;uniqueIndex" json:"order_id"`
	Method          PaymentMethod `gorm:"type:varchar(20)" json:"method"`
	Amount          int64         `gorm:"not null" json:"amount"`
	TransactionCode *string       `gorm:"type:varchar(64);uniqueIndex" json:"transaction_code,omitempty"`
	Status          PaymentStatus `gorm:"type:varchar(30);not null;index" json:"status"`
	RedirectURL     string        `gorm:"type:text" json:"redirect_url,omitempty"`
	CodAttempts     int           `gorm:"not null;default:0" json:"cod_attempts"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	CreatedAt       time.Time     `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
