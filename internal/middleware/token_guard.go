package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"talentauth/internal/domain/model"
	auth "talentauth/internal/usecase/auth_usecase"
)

type TokenAuthenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*model.Token, error)
}

// 保存済みレコードが存在し、未失効かつ期限内か確認する。
// 失効（logout / 強制ログアウト）したトークンはここで401になる。
func TokenGuard(authn TokenAuthenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			//AuthJWTが入れた値を取得する
			userID, _ := c.Get(CtxUserIDKey).(string)
			rawToken, _ := c.Get(CtxAccessTokenKey).(string)
			if userID == "" || rawToken == "" {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED"))
			}

			record, err := authn.Authenticate(c.Request().Context(), rawToken)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidCredential) {
					return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED"))
				}
				c.Logger().Error(err)
				return c.JSON(http.StatusInternalServerError, errorJSON("INTERNAL"))
			}
			if record.UserID != userID {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED"))
			}

			c.Set(CtxTokenIDKey, record.ID)
			return next(c)
		}
	}
}
