package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"talentauth/internal/usecase"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s", e.Status, e.Code)
}

// APIClient talks to the session API. Authenticated calls go through a Transport
// backed by the client's own Coordinator.
type APIClient struct {
	baseURL string
	authed  *http.Client
	plain   *http.Client
	coord   *Coordinator
}

type ClientOption func(*clientConfig)

type clientConfig struct {
	base      http.RoundTripper
	timeout   time.Duration
	coordOpts []Option
}

// テストでhttptestのtransportを差し込む
func WithBaseTransport(rt http.RoundTripper) ClientOption {
	return func(c *clientConfig) { c.base = rt }
}

func WithHTTPTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.timeout = d }
}

func WithCoordinatorOptions(opts ...Option) ClientOption {
	return func(c *clientConfig) { c.coordOpts = append(c.coordOpts, opts...) }
}

func NewAPIClient(baseURL string, opts ...ClientOption) *APIClient {
	cfg := clientConfig{timeout: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	c := &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		plain:   &http.Client{Transport: cfg.base, Timeout: cfg.timeout},
	}
	c.coord = NewCoordinator(c, cfg.coordOpts...)
	c.authed = &http.Client{
		Transport: &Transport{Base: cfg.base, Coordinator: c.coord},
		Timeout:   cfg.timeout,
	}
	return c
}

func (c *APIClient) Coordinator() *Coordinator {
	return c.coord
}

// 認証不要の呼び出しはplain、ログイン後はauthed
func (c *APIClient) Register(ctx context.Context, req usecase.AuthRegisterRequest) (*usecase.AuthRegisterResponse, error) {
	var res usecase.AuthRegisterResponse
	if err := c.do(ctx, c.plain, http.MethodPost, "/auth/register", req, &res); err != nil {
		return nil, err
	}
	c.coord.SetSession(res.AccessToken, res.RefreshToken)
	return &res, nil
}

func (c *APIClient) Login(ctx context.Context, email string, password string) (*usecase.SessionResponse, error) {
	var res usecase.SessionResponse
	req := usecase.AuthLoginRequest{Email: email, Password: password}
	if err := c.do(ctx, c.plain, http.MethodPost, "/auth/login", req, &res); err != nil {
		return nil, err
	}
	c.coord.SetSession(res.AccessToken, res.RefreshToken)
	return &res, nil
}

func (c *APIClient) InitiateWalletLogin(ctx context.Context, address string) (bool, error) {
	var res usecase.WalletLoginResponse
	req := usecase.AuthLoginRequest{WalletAddress: address}
	if err := c.do(ctx, c.plain, http.MethodPost, "/auth/login", req, &res); err != nil {
		return false, err
	}
	return res.RequiresOtp, nil
}

func (c *APIClient) VerifyOtp(ctx context.Context, address string, code string) (*usecase.SessionResponse, error) {
	var res usecase.SessionResponse
	req := usecase.VerifyOtpRequest{WalletAddress: address, Code: code}
	if err := c.do(ctx, c.plain, http.MethodPost, "/auth/verify-otp", req, &res); err != nil {
		return nil, err
	}
	c.coord.SetSession(res.AccessToken, res.RefreshToken)
	return &res, nil
}

// Refresh implements Refresher. 400/401 wrap ErrRejected.
func (c *APIClient) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var res usecase.RefreshResponse
	err := c.do(ctx, c.plain, http.MethodPost, "/auth/refresh", usecase.RefreshRequest{RefreshToken: refreshToken}, &res)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest) {
			return "", fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return "", err
	}
	return res.AccessToken, nil
}

func (c *APIClient) Me(ctx context.Context) (*usecase.UserDTO, error) {
	var res usecase.UserDTO
	if err := c.do(ctx, c.authed, http.MethodGet, "/auth/me", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *APIClient) AddWallet(ctx context.Context, req usecase.AddWalletRequest) (*usecase.WalletDTO, error) {
	var res usecase.WalletDTO
	if err := c.do(ctx, c.authed, http.MethodPost, "/wallets", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// サーバーは常に200。手元のトークンは結果に関係なく捨てる
func (c *APIClient) Logout(ctx context.Context) error {
	token, _ := c.coord.AcquireToken()
	defer c.coord.Clear()

	req, err := c.newRequest(ctx, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.send(c.plain, req, nil)
}

func (c *APIClient) do(ctx context.Context, hc *http.Client, method string, path string, body any, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	return c.send(hc, req, out)
}

func (c *APIClient) newRequest(ctx context.Context, method string, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *APIClient) send(hc *http.Client, req *http.Request, out any) error {
	res, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&e)
		return &APIError{Status: res.StatusCode, Code: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
