package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"talentauth/internal/logging"
	"talentauth/internal/usecase"
)

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(code string) errorResponse {
	return errorResponse{Error: code}
}

// usecaseのエラーをHTTPステータスとコードに変換する。
// 想定外のエラーだけログに出し、中身は返さない。
func writeError(c echo.Context, log logging.Logger, err error) error {
	switch {
	case errors.Is(err, usecase.ErrValidation):
		return c.JSON(http.StatusBadRequest, errorJSON("VALIDATION_ERROR"))
	case errors.Is(err, usecase.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED"))
	case errors.Is(err, usecase.ErrInvalidOrExpiredOtp):
		return c.JSON(http.StatusUnauthorized, errorJSON("INVALID_OR_EXPIRED_OTP"))
	case errors.Is(err, usecase.ErrForbidden):
		return c.JSON(http.StatusForbidden, errorJSON("FORBIDDEN"))
	case errors.Is(err, usecase.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorJSON("NOT_FOUND"))
	case errors.Is(err, usecase.ErrConflict):
		return c.JSON(http.StatusConflict, errorJSON("CONFLICT"))
	case errors.Is(err, usecase.ErrTooManyAttempts):
		return c.JSON(http.StatusTooManyRequests, errorJSON("TOO_MANY_ATTEMPTS"))
	case errors.Is(err, usecase.ErrUnconfigured):
		return c.JSON(http.StatusServiceUnavailable, errorJSON("UNCONFIGURED"))
	case errors.Is(err, context.DeadlineExceeded):
		// リクエスト期限内にストアが応答しなかった
		log.Warn(c.Request().Context(), "request timed out",
			"method", c.Request().Method, "path", c.Path(), "error", err)
		return c.JSON(http.StatusServiceUnavailable, errorJSON("TIMEOUT"))
	case errors.Is(err, context.Canceled):
		// クライアントが切断
		return c.NoContent(499)
	default:
		log.Error(c.Request().Context(), "request failed",
			"method", c.Request().Method, "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, errorJSON("INTERNAL"))
	}
}

func requestMeta(c echo.Context) usecase.RequestMeta {
	return usecase.RequestMeta{IP: c.RealIP()}
}
