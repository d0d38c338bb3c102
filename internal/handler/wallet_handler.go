package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"talentauth/internal/logging"
	"talentauth/internal/middleware"
	"talentauth/internal/usecase"
)

type WalletHandler struct {
	uc     *usecase.AuthUsecase
	parser middleware.TokenParser
	log    logging.Logger
}

func NewWalletHandler(uc *usecase.AuthUsecase, parser middleware.TokenParser, log logging.Logger) *WalletHandler {
	return &WalletHandler{uc: uc, parser: parser, log: log}
}

func (h *WalletHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/wallets", middleware.AuthJWT(h.parser), middleware.TokenGuard(h.uc))

	g.POST("", h.Add)
	g.PUT("/:address/default", h.SetDefault)
}

// POST /wallets
func (h *WalletHandler) Add(c echo.Context) error {
	var req usecase.AddWalletRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("VALIDATION_ERROR"))
	}

	res, err := h.uc.AddWallet(c.Request().Context(), middleware.UserID(c), req, requestMeta(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// PUT /wallets/:address/default
func (h *WalletHandler) SetDefault(c echo.Context) error {
	res, err := h.uc.SetDefaultWallet(c.Request().Context(), middleware.UserID(c), c.Param("address"), requestMeta(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}
