package handler

import (
	"net/http"
	"strconv"

	"app/internal/config"
	"app/internal/middleware"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 管理者・配達オペレーター向けの支払い操作。
type AdminPaymentHandler struct {
	uc                  *usecase.PaymentUsecase
	staleDefaultMinutes int
}

func NewAdminPaymentHandler(uc *usecase.PaymentUsecase, staleDefaultMinutes int) *AdminPaymentHandler {
	return &AdminPaymentHandler{uc: uc, staleDefaultMinutes: staleDefaultMinutes}
}

type CodConfirmRequest struct {
	Note string `json:"note"`
}

type CodRejectRequest struct {
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

func (h *AdminPaymentHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	admin := e.Group("/admin/payments")
	admin.Use(middleware.AuthJWT(cfg))
	admin.Use(middleware.AdminRoleGuard())

	admin.GET("/stale", h.listStale)
	admin.GET("/gateway-status", h.gatewayStatus)
	admin.POST("/:id/cancel", h.cancel)
	admin.POST("/:id/cod/confirm", h.codConfirm)
	admin.POST("/:id/cod/reject", h.codReject)
	admin.POST("/:id/cod/reattempt", h.codReattempt)
}

// しきい値より古い未確定の支払い一覧
func (h *AdminPaymentHandler) listStale(c echo.Context) error {
	threshold := h.staleDefaultMinutes
	if v := c.QueryParam("threshold_minutes"); v != "" {
		t, err := strconv.Atoi(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid threshold_minutes"})
		}
		threshold = t
	}

	out, err := h.uc.FindStalePending(c.Request().Context(), threshold)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// ゲートウェイへの同期照会（ローカル状態は変えない）
func (h *AdminPaymentHandler) gatewayStatus(c echo.Context) error {
	txnRef := c.QueryParam("txn_ref")
	out, err := h.uc.CheckStatusWithGateway(c.Request().Context(), txnRef)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminPaymentHandler) cancel(c echo.Context) error {
	paymentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.CancelPayment(c.Request().Context(), adminID, paymentID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// 現金回収の確認
func (h *AdminPaymentHandler) codConfirm(c echo.Context) error {
	paymentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req CodConfirmRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.ConfirmCodPayment(c.Request().Context(), adminID, paymentID, req.Note)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// 受取拒否。reasonは必須。
func (h *AdminPaymentHandler) codReject(c echo.Context) error {
	paymentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req CodRejectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.RejectCodPayment(c.Request().Context(), adminID, paymentID, req.Reason, req.Note)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AdminPaymentHandler) codReattempt(c echo.Context) error {
	paymentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	adminID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.ReattemptCodDelivery(c.Request().Context(), adminID, paymentID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
