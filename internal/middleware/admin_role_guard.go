package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	auth "talentauth/internal/usecase/auth_usecase"
)

type AdminChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// 管理者フラグはトークンに載せず、毎回ストアから読む。
func AdminGuard(checker AdminChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID, _ := c.Get(CtxUserIDKey).(string)
			if userID == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED"))
			}

			isAdmin, err := checker.IsAdmin(c.Request().Context(), userID)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidCredential) {
					return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED"))
				}
				c.Logger().Error(err)
				return c.JSON(http.StatusInternalServerError, errorJSON("INTERNAL"))
			}

			//一般ユーザーは拒否、管理者だけ許可
			if !isAdmin {
				return c.JSON(http.StatusForbidden, errorJSON("FORBIDDEN"))
			}

			return next(c)
		}
	}
}
