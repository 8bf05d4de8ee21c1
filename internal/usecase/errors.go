package usecase

import "fmt"

// エラーは型で区別する。ハンドラ側がerrors.AsでHTTPステータスに写す。

// 入力不正
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// 対象が存在しない（注文・支払い・取引コード）
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

// 在庫不足。1行でも足りなければ注文全体が失敗する。
type InsufficientStockError struct {
	VariantID int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: variant %d", e.VariantID)
}

// 遷移表にない辺。状態は一切変えずに返す。
// webhook等の呼び出し側は「処理済みなので無視」として扱う。
type InvalidStateTransitionError struct {
	From   string
	Event  string
	Reason string
}

func (e *InvalidStateTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition: %s from %s (%s)", e.Event, e.From, e.Reason)
	}
	return fmt.Sprintf("invalid transition: %s from %s", e.Event, e.From)
}

// 署名・トークン検証に失敗。状態は変えない。
type GatewayAuthenticityError struct {
	Reason string
}

func (e *GatewayAuthenticityError) Error() string {
	return "gateway authenticity check failed: " + e.Reason
}

// OTP期限切れ
type OtpExpiredError struct{}

func (e *OtpExpiredError) Error() string {
	return "otp expired"
}

// OTP不一致（消費済みコードの再送もこちら）
type OtpMismatchError struct{}

func (e *OtpMismatchError) Error() string {
	return "otp mismatch"
}
