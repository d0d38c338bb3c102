package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"talentauth/internal/logging"
	"talentauth/internal/middleware"
	"talentauth/internal/usecase"
)

type AuthHandler struct {
	uc        *usecase.AuthUsecase
	parser    middleware.TokenParser
	loginRate float64 // /auth/login と /auth/verify-otp のIP単位 req/sec
	log       logging.Logger
}

// DIコンストラクタ
func NewAuthHandler(uc *usecase.AuthUsecase, parser middleware.TokenParser, loginRate float64, log logging.Logger) *AuthHandler {
	return &AuthHandler{uc: uc, parser: parser, loginRate: loginRate, log: log}
}

func (h *AuthHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/auth")
	limit := middleware.LoginRateLimit(h.loginRate)

	g.POST("/register", h.Register)
	g.POST("/login", h.Login, limit)
	g.POST("/verify-otp", h.VerifyOtp, limit)
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", h.Logout)

	// JWT必須 + 保存済みトークンの確認
	g.GET("/me", h.Me, middleware.AuthJWT(h.parser), middleware.TokenGuard(h.uc))
}

// POST /auth/register
func (h *AuthHandler) Register(c echo.Context) error {
	var req usecase.AuthRegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("VALIDATION_ERROR"))
	}

	res, err := h.uc.Register(c.Request().Context(), req, requestMeta(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// POST /auth/login
// walletAddressだけが来たらウォレットログイン（OTP送信）、それ以外はパスワードログイン。
func (h *AuthHandler) Login(c echo.Context) error {
	var req usecase.AuthLoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("VALIDATION_ERROR"))
	}

	ctx := c.Request().Context()
	if req.WalletAddress != "" && req.Email == "" {
		res, err := h.uc.InitiateWalletLogin(ctx, req, requestMeta(c))
		if err != nil {
			return writeError(c, h.log, err)
		}
		return c.JSON(http.StatusOK, res)
	}

	res, err := h.uc.Login(ctx, req, requestMeta(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// POST /auth/verify-otp
func (h *AuthHandler) VerifyOtp(c echo.Context) error {
	var req usecase.VerifyOtpRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("VALIDATION_ERROR"))
	}

	res, err := h.uc.VerifyOtp(c.Request().Context(), req, requestMeta(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// POST /auth/refresh
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req usecase.RefreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("VALIDATION_ERROR"))
	}

	res, err := h.uc.Refresh(c.Request().Context(), req, requestMeta(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

// POST /auth/logout
// Bearerは任意。何度呼んでも200。
func (h *AuthHandler) Logout(c echo.Context) error {
	token, _ := middleware.BearerToken(c)
	return c.JSON(http.StatusOK, h.uc.Logout(c.Request().Context(), token, requestMeta(c)))
}

// GET /auth/me
func (h *AuthHandler) Me(c echo.Context) error {
	res, err := h.uc.Me(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}
