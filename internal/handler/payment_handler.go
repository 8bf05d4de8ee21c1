package handler

import (
	"errors"
	"net/http"

	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

// ゲートウェイからの着信（callback/webhook）を受ける公開エンドポイント。
// 認証はJWTではなく署名・トークンの検証で行う。
type PaymentHandler struct {
	payments *usecase.PaymentUsecase
}

func NewPaymentHandler(payments *usecase.PaymentUsecase) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/payments/callback", h.callback)
	e.POST("/payments/webhook", h.webhook)
}

// ブラウザリダイレクト。署名付きクエリをそのままusecaseへ渡す。
func (h *PaymentHandler) callback(c echo.Context) error {
	params := map[string]string{}
	for k, vs := range c.QueryParams() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	out, err := h.payments.ConfirmCallback(c.Request().Context(), params)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// サーバ間通知。再送を前提に、処理済みや未知の取引は200で受け流す。
// 401を返すのはトークン検証に失敗したときだけ。
func (h *PaymentHandler) webhook(c echo.Context) error {
	var payload usecase.WebhookPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	_, err := h.payments.ConfirmWebhook(c.Request().Context(), payload)
	if err != nil {
		var ga *usecase.GatewayAuthenticityError
		if errors.As(err, &ga) {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "verification failed"})
		}
		var nf *usecase.NotFoundError
		if errors.As(err, &nf) {
			//未知の取引コード。再送させても無駄なので受領扱い。
			return c.JSON(http.StatusOK, SuccessResponse{Message: "ignored"})
		}
		var ve *usecase.ValidationError
		if errors.As(err, &ve) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ve.Message})
		}
		//DB等の一時障害はゲートウェイに再送させる
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}

	return c.JSON(http.StatusOK, SuccessResponse{Message: "received"})
}
