package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"talentauth/internal/domain/model"
	"talentauth/internal/logging"
	"talentauth/internal/middleware"
	"talentauth/internal/repository"
	"talentauth/internal/usecase"
)

type AdminUserHandler struct {
	uc     *usecase.AuthUsecase
	parser middleware.TokenParser
	log    logging.Logger
}

func NewAdminUserHandler(uc *usecase.AuthUsecase, parser middleware.TokenParser, log logging.Logger) *AdminUserHandler {
	return &AdminUserHandler{uc: uc, parser: parser, log: log}
}

func (h *AdminUserHandler) RegisterRoutes(e *echo.Echo) {
	// /admin 配下は全部「JWT必須 + 保存済みトークン確認 + 管理者限定」
	admin := e.Group(
		"/admin",
		middleware.AuthJWT(h.parser),
		middleware.TokenGuard(h.uc),
		middleware.AdminGuard(h.uc),
	)

	admin.POST("/users/:id/revoke-sessions", h.RevokeSessions)
	admin.GET("/audit-logs", h.ListAuditLogs)
}

// POST /admin/users/:id/revoke-sessions
func (h *AdminUserHandler) RevokeSessions(c echo.Context) error {
	res, err := h.uc.ForceLogout(c.Request().Context(), middleware.UserID(c), c.Param("id"), requestMeta(c))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, res)
}

type auditLogListResponse struct {
	Items []model.AuditLog `json:"items"`
}

// GET /admin/audit-logs?actorUserId=&action=&resourceType=&resourceId=&from=&to=&limit=&offset=
func (h *AdminUserHandler) ListAuditLogs(c echo.Context) error {
	filter, ok := parseAuditLogFilter(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, errorJSON("VALIDATION_ERROR"))
	}

	logs, err := h.uc.ListAuditLogs(c.Request().Context(), filter)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if logs == nil {
		logs = []model.AuditLog{}
	}
	return c.JSON(http.StatusOK, auditLogListResponse{Items: logs})
}

func parseAuditLogFilter(c echo.Context) (repository.AuditLogFilter, bool) {
	var f repository.AuditLogFilter

	if v := c.QueryParam("actorUserId"); v != "" {
		f.ActorUserID = &v
	}
	if v := c.QueryParam("action"); v != "" {
		a := model.AuditAction(v)
		f.Action = &a
	}
	if v := c.QueryParam("resourceType"); v != "" {
		rt := model.AuditResourceType(v)
		f.ResourceType = &rt
	}
	if v := c.QueryParam("resourceId"); v != "" {
		f.ResourceID = &v
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, false
		}
		f.CreatedFrom = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, false
		}
		f.CreatedTo = &t
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, false
		}
		f.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, false
		}
		f.Offset = n
	}
	return f, true
}
