package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"talentauth/internal/domain/model"
	auth "talentauth/internal/usecase/auth_usecase"
)

const (
	CtxUserIDKey      = "user_id"      // string
	CtxAccessTokenKey = "access_token" // string（ログには出さない）
	CtxTokenIDKey     = "token_id"     // string
)

// 署名とkindだけを見る
type TokenParser interface {
	Parse(value string) (*auth.Claims, error)
}

// bearerAuth用のJWT検証ミドルウェア。
// ここを通っても信用はしない。TokenGuardで保存済みレコードを確認する。
func AuthJWT(parser TokenParser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rawToken, ok := BearerToken(c)
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED"))
			}

			//JWTをパースして検証する
			claims, err := parser.Parse(rawToken)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED"))
			}

			//リフレッシュトークンでAPIは呼べない
			if claims.Kind != model.TokenKindAccess {
				return c.JSON(http.StatusUnauthorized, errorJSON("UNAUTHORIZED"))
			}

			//contextへ保存
			c.Set(CtxUserIDKey, claims.Subject)
			c.Set(CtxAccessTokenKey, rawToken)

			return next(c)
		}
	}
}

// Authorization: Bearer <token> を取り出す
func BearerToken(c echo.Context) (string, bool) {
	authz := c.Request().Header.Get("Authorization")
	if authz == "" {
		return "", false
	}

	//Bearer形式か確認してtokenを抜く
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	rawToken := strings.TrimSpace(parts[1])
	if rawToken == "" {
		return "", false
	}
	return rawToken, true
}

// handlerから認証済みユーザーIDを取る
func UserID(c echo.Context) string {
	id, _ := c.Get(CtxUserIDKey).(string)
	return id
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}
