package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentauth/internal/domain/model"
	"talentauth/internal/infra/memory"
	"talentauth/internal/infra/wallet"
	"talentauth/internal/logging"
	"talentauth/internal/repository"
	"talentauth/internal/usecase"
	auth "talentauth/internal/usecase/auth_usecase"
	"talentauth/internal/validator"
)

// =====
// テスト用の組み立て
// =====

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (i *inbox) SendOtpEmail(ctx context.Context, to string, code string, purpose model.OtpPurpose) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.codes == nil {
		i.codes = map[string]string{}
	}
	i.codes[to] = code
	return nil
}

func (i *inbox) SendWelcomeEmail(ctx context.Context, to string, name string) error { return nil }

func (i *inbox) code(to string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.codes[to]
}

type testApp struct {
	e     *echo.Echo
	store *memory.Store
	mail  *inbox
}

// wrapUsers でログイン時のユーザー取得を差し替えられる
func newTestApp(t *testing.T, wrapUsers ...func(repository.UserRepository) repository.UserRepository) *testApp {
	t.Helper()

	store := memory.NewStore()
	var loginUsers repository.UserRepository = store.Users()
	for _, w := range wrapUsers {
		loginUsers = w(loginUsers)
	}
	mail := &inbox{}
	clock := auth.SystemClock{}
	ids := auth.UUIDGenerator{}
	log := logging.NewNop()
	signer := auth.NewJWTSigner("handler-secret", clock)

	tokens := auth.NewTokenService(store.Tokens(), store.Users(), signer, ids, clock, 15*time.Minute, 24*time.Hour)
	otp := auth.NewOTPManager(store.Otps(), mail, nil, auth.RandomCodeGenerator{}, ids, clock, log)
	register := auth.NewRegisterUserUsecase(store.Users(), store.TxManager(), auth.NewBcryptPasswordHasher(4), wallet.NewLocalProvisioner(), tokens, mail, ids, log)
	login := auth.NewLoginUsecase(loginUsers, store.Wallets(), auth.NewBcryptPasswordVerifier(), tokens, clock)
	wl := auth.NewWalletLogin(store.Wallets(), store.Users(), otp, tokens)
	uc := usecase.NewAuthUsecase(tokens, register, login, wl, store.Users(), store.Wallets(), store.TxManager(), store.AuditLogs(), validator.NewAuthValidator(), ids, log)

	e := echo.New()
	NewAuthHandler(uc, signer, 0, log).RegisterRoutes(e)
	NewWalletHandler(uc, signer, log).RegisterRoutes(e)
	NewAdminUserHandler(uc, signer, log).RegisterRoutes(e)

	return &testApp{e: e, store: store, mail: mail}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, strings.NewReader(string(b)))
		r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, r)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (a *testApp) register(t *testing.T, email string) usecase.AuthRegisterResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "secret123", "name": "Taro",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[usecase.AuthRegisterResponse](t, rec)
}

// =====
// シナリオ
// =====

func TestRegister(t *testing.T) {
	app := newTestApp(t)

	reg := app.register(t, "a@b.com")
	assert.NotEmpty(t, reg.AccessToken)
	assert.NotEmpty(t, reg.RefreshToken)
	assert.NotEmpty(t, reg.RecoveryPhrase)
	assert.Equal(t, "a@b.com", reg.User.Email)
	assert.Len(t, reg.User.Wallets, 2)

	rec := app.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "a@b.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decode[errorResponse](t, rec).Error)

	rec = app.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "not-an-email", "password": "secret123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode[errorResponse](t, rec).Error)
}

func TestPasswordLogin(t *testing.T) {
	app := newTestApp(t)
	reg := app.register(t, "a@b.com")

	rec := app.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@b.com", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[usecase.SessionResponse](t, rec)
	assert.Equal(t, reg.User.ID, s.User.ID)

	rec = app.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "a@b.com", "password": "wrong-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode[errorResponse](t, rec).Error)
}

// 応答しないストア。ctxの期限で抜ける
type stalledUsers struct {
	repository.UserRepository
}

func (stalledUsers) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPasswordLogin_StoreTimeout(t *testing.T) {
	app := newTestApp(t, func(u repository.UserRepository) repository.UserRepository {
		return stalledUsers{UserRepository: u}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"a@b.com","password":"secret123"}`)).WithContext(ctx)
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	start := time.Now()
	app.e.ServeHTTP(rec, r)

	// 期限で抜けて503
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "TIMEOUT", decode[errorResponse](t, rec).Error)
}

func TestWalletLogin(t *testing.T) {
	app := newTestApp(t)
	reg := app.register(t, "a@b.com")
	address := reg.User.Wallets[0].Address

	rec := app.do(t, http.MethodPost, "/auth/login", "", map[string]string{"walletAddress": "0xunknown"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(t, http.MethodPost, "/auth/login", "", map[string]string{"walletAddress": address})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[usecase.WalletLoginResponse](t, rec).RequiresOtp)

	code := app.mail.code("a@b.com")
	require.Len(t, code, 6)

	rec = app.do(t, http.MethodPost, "/auth/verify-otp", "", map[string]string{"walletAddress": address, "code": code})
	require.Equal(t, http.StatusOK, rec.Code)
	s := decode[usecase.SessionResponse](t, rec)
	assert.Equal(t, reg.User.ID, s.User.ID)
	assert.NotEmpty(t, s.AccessToken)

	// 同じコードは二度使えない
	rec = app.do(t, http.MethodPost, "/auth/verify-otp", "", map[string]string{"walletAddress": address, "code": code})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_OR_EXPIRED_OTP", decode[errorResponse](t, rec).Error)

	rec = app.do(t, http.MethodPost, "/auth/verify-otp", "", map[string]string{"walletAddress": address, "code": "12ab"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutRevokesAccessOnly(t *testing.T) {
	app := newTestApp(t)
	reg := app.register(t, "a@b.com")

	rec := app.do(t, http.MethodGet, "/auth/me", reg.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reg.User.ID, decode[usecase.UserDTO](t, rec).ID)

	rec = app.do(t, http.MethodPost, "/auth/logout", reg.AccessToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "logout success", decode[usecase.SuccessResponse](t, rec).Message)

	rec = app.do(t, http.MethodGet, "/auth/me", reg.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// refreshは生きている
	rec = app.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": reg.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := decode[usecase.RefreshResponse](t, rec).AccessToken

	rec = app.do(t, http.MethodGet, "/auth/me", fresh, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// トークン無しでも200
	rec = app.do(t, http.MethodPost, "/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshRejects(t *testing.T) {
	app := newTestApp(t)
	reg := app.register(t, "a@b.com")

	rec := app.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": reg.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWallets(t *testing.T) {
	app := newTestApp(t)
	reg := app.register(t, "a@b.com")

	rec := app.do(t, http.MethodPost, "/wallets", "", map[string]any{"address": "0xabc", "network": "ethereum", "currency": "ETH"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodPost, "/wallets", reg.AccessToken, map[string]any{"address": "0xABC", "network": "ethereum", "currency": "ETH"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	w := decode[usecase.WalletDTO](t, rec)
	assert.False(t, w.IsDefault)

	rec = app.do(t, http.MethodPost, "/wallets", reg.AccessToken, map[string]any{"address": "0xabc", "network": "ethereum", "currency": "ETH"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = app.do(t, http.MethodPut, "/wallets/"+w.Address+"/default", reg.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	u := decode[usecase.UserDTO](t, rec)
	defaults := 0
	for _, x := range u.Wallets {
		if x.IsDefault {
			defaults++
			assert.Equal(t, w.Address, x.Address)
		}
	}
	assert.Equal(t, 1, defaults)

	rec = app.do(t, http.MethodPut, "/wallets/0xmissing/default", reg.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin(t *testing.T) {
	app := newTestApp(t)
	admin := app.register(t, "admin@b.com")
	target := app.register(t, "user@b.com")

	rec := app.do(t, http.MethodPost, "/admin/users/"+target.User.ID+"/revoke-sessions", target.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode[errorResponse](t, rec).Error)

	ctx := context.Background()
	u, err := app.store.Users().FindByID(ctx, admin.User.ID)
	require.NoError(t, err)
	u.IsAdmin = true
	require.NoError(t, app.store.Users().Update(ctx, u))

	rec = app.do(t, http.MethodPost, "/admin/users/"+target.User.ID+"/revoke-sessions", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[usecase.ForceLogoutResponse](t, rec)
	assert.Equal(t, target.User.ID, res.UserID)
	assert.EqualValues(t, 2, res.RevokedTokens)

	// 失効後はアクセスもrefreshも使えない
	rec = app.do(t, http.MethodGet, "/auth/me", target.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = app.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": target.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodPost, "/admin/users/not-a-uuid/revoke-sessions", admin.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodGet, "/admin/audit-logs?action=REVOKE_ALL", admin.AccessToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decode[auditLogListResponse](t, rec)
	require.Len(t, logs.Items, 1)
	assert.Equal(t, admin.User.ID, logs.Items[0].ActorUserID)
	assert.Equal(t, target.User.ID, logs.Items[0].ResourceID)

	rec = app.do(t, http.MethodGet, "/admin/audit-logs?from=yesterday", admin.AccessToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseAuditLogFilter(t *testing.T) {
	e := echo.New()
	r := httptest.NewRequest(http.MethodGet, "/admin/audit-logs?actorUserId=u1&resourceType=wallet&from=2026-01-01T00:00:00Z&limit=10&offset=5", nil)
	c := e.NewContext(r, httptest.NewRecorder())

	f, ok := parseAuditLogFilter(c)
	require.True(t, ok)
	require.NotNil(t, f.ActorUserID)
	assert.Equal(t, "u1", *f.ActorUserID)
	require.NotNil(t, f.ResourceType)
	assert.Equal(t, model.AuditResourceWallet, *f.ResourceType)
	require.NotNil(t, f.CreatedFrom)
	assert.Equal(t, 2026, f.CreatedFrom.Year())
	assert.Nil(t, f.CreatedTo)
	assert.Equal(t, 10, f.Limit)
	assert.Equal(t, 5, f.Offset)

	r = httptest.NewRequest(http.MethodGet, "/admin/audit-logs?offset=-1", nil)
	_, ok = parseAuditLogFilter(e.NewContext(r, httptest.NewRecorder()))
	assert.False(t, ok)
}
