package handler

import (
	"errors"
	"net/http"

	repo "app/internal/repository"
	"app/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// usecaseの型付きエラーをHTTPステータスに写す
func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	var ve *usecase.ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ve.Message})
	}

	var nf *usecase.NotFoundError
	if errors.As(err, &nf) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: nf.Error()})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
	}

	var is *usecase.InsufficientStockError
	if errors.As(err, &is) {
		return c.JSON(http.StatusConflict, ErrorResponse{Error: is.Error()})
	}

	var st *usecase.InvalidStateTransitionError
	if errors.As(err, &st) {
		return c.JSON(http.StatusConflict, ErrorResponse{Error: st.Error()})
	}

	var ga *usecase.GatewayAuthenticityError
	if errors.As(err, &ga) {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "verification failed"})
	}

	var oe *usecase.OtpExpiredError
	if errors.As(err, &oe) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: oe.Error()})
	}
	var om *usecase.OtpMismatchError
	if errors.As(err, &om) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: om.Error()})
	}

	//500
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// ミドルウェアが入れたuser_idを取り出す
func getUserIDFromContext(c echo.Context) (int64, bool) {
	raw := c.Get("user_id")
	id, ok := raw.(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}
