package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentauth/internal/client"
	"talentauth/internal/config"
	"talentauth/internal/logging"
	"talentauth/internal/usecase"
)

// メモリストアで本番と同じ組み立てをしてHTTP越しに叩く
func newE2E(t *testing.T) (*httptest.Server, *app) {
	t.Helper()

	cfg := config.Config{
		StoreDriver:     config.StoreDriverMemory,
		JWTSecret:       "e2e-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		BcryptCost:      4,
		OTPMaxAttempts:  5,
		MailTimeout:     time.Second,
		RequestTimeout:  5 * time.Second,
		StoreTimeout:    5 * time.Second,
	}
	a, err := build(context.Background(), cfg, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.close)

	srv := httptest.NewServer(a.srv.Handler())
	t.Cleanup(srv.Close)
	return srv, a
}

func Test_E2E_RegisterMeLogout(t *testing.T) {
	srv, _ := newE2E(t)
	ctx := context.Background()

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	c := client.NewAPIClient(srv.URL)
	reg, err := c.Register(ctx, usecase.AuthRegisterRequest{Email: "a@b.com", Password: "secret123", Name: "Taro"})
	require.NoError(t, err)
	assert.NotEmpty(t, reg.RecoveryPhrase)

	//二重登録は409
	_, err = client.NewAPIClient(srv.URL).Register(ctx, usecase.AuthRegisterRequest{Email: "a@b.com", Password: "secret123"})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, me.ID)
	assert.Len(t, me.Wallets, 2)

	oldAccess := reg.AccessToken
	require.NoError(t, c.Logout(ctx))

	//ログアウト後の古いaccessは401
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+oldAccess)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	//refreshはまだ使える
	access, err := c.Refresh(ctx, reg.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, oldAccess, access)
}

func Test_E2E_ClientRecoversFromRevokedAccess(t *testing.T) {
	srv, a := newE2E(t)
	ctx := context.Background()

	c := client.NewAPIClient(srv.URL)
	reg, err := c.Register(ctx, usecase.AuthRegisterRequest{Email: "a@b.com", Password: "secret123"})
	require.NoError(t, err)

	//サーバー側でaccessだけ失効させる
	a.uc.Logout(ctx, reg.AccessToken, usecase.RequestMeta{})

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, me.ID)

	token, _ := c.Coordinator().AcquireToken()
	assert.NotEqual(t, reg.AccessToken, token)
}

func Test_E2E_WalletLoginWithoutSMTP(t *testing.T) {
	srv, _ := newE2E(t)
	ctx := context.Background()

	c := client.NewAPIClient(srv.URL)
	reg, err := c.Register(ctx, usecase.AuthRegisterRequest{Email: "a@b.com", Password: "secret123"})
	require.NoError(t, err)

	_, err = c.InitiateWalletLogin(ctx, reg.User.Wallets[0].Address)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "UNCONFIGURED", apiErr.Code)
}
