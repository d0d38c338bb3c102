// Package client is the consumer side of the session API.
//
// A Coordinator holds the tokens of one client process and collapses concurrent
// refreshes into a single call. Transport plugs it into net/http and APIClient
// speaks the JSON API on top of both.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"talentauth/internal/logging"
)

var (
	// refresh tokenが拒否された。再ログインが必要
	ErrSessionLost = errors.New("session lost")

	// サーバーがrefresh tokenを拒否した（Refresherが返す）
	ErrRejected = errors.New("refresh rejected")
)

const DefaultRefreshTimeout = 10 * time.Second

// Refresher exchanges a refresh token for a new access token.
// A refused token must be reported with an error wrapping ErrRejected.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

type Coordinator struct {
	refresher Refresher
	timeout   time.Duration
	onLost    func()
	log       logging.Logger

	mu      sync.Mutex
	access  string
	refresh string
	gen     uint64

	group singleflight.Group
}

type Option func(*Coordinator)

func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// refresh失敗でセッションが消えたときに1回呼ばれる
func WithSessionLost(fn func()) Option {
	return func(c *Coordinator) { c.onLost = fn }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

func NewCoordinator(r Refresher, opts ...Option) *Coordinator {
	c := &Coordinator{
		refresher: r,
		timeout:   DefaultRefreshTimeout,
		log:       logging.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ログイン直後などにトークンを差し替える
func (c *Coordinator) SetSession(access string, refresh string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access, c.refresh = access, refresh
	c.gen++
}

func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access, c.refresh = "", ""
	c.gen++
}

// AcquireToken returns the current access token and the generation it belongs to.
// The generation is handed back to OnUnauthorized when the token is refused.
func (c *Coordinator) AcquireToken() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access, c.gen
}

func (c *Coordinator) RefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh
}

// OnUnauthorized is called after the access token of generation gen was refused.
//
// If the token was already replaced, the current one is returned as is.
// Otherwise the caller joins the single in-flight refresh (starting it if needed).
// The refresh does not depend on ctx: a caller that gives up returns ctx.Err()
// and the others still receive the result.
func (c *Coordinator) OnUnauthorized(ctx context.Context, gen uint64) (string, error) {
	c.mu.Lock()
	if c.gen != gen && c.access != "" {
		token := c.access
		c.mu.Unlock()
		return token, nil
	}
	refresh := c.refresh
	c.mu.Unlock()

	if refresh == "" {
		return "", ErrSessionLost
	}

	ch := c.group.DoChan(refresh, func() (any, error) {
		return c.doRefresh(context.WithoutCancel(ctx), gen, refresh)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (c *Coordinator) doRefresh(ctx context.Context, gen uint64, refresh string) (string, error) {
	// 直前に終わったrefreshの結果があればそれを使う
	c.mu.Lock()
	if c.gen != gen || c.refresh != refresh {
		access := c.access
		c.mu.Unlock()
		if access == "" {
			return "", ErrSessionLost
		}
		return access, nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	access, err := c.refresher.Refresh(ctx, refresh)
	if err != nil {
		if !errors.Is(err, ErrRejected) {
			// 通信エラーではセッションを消さない
			c.log.Warn(ctx, "token refresh failed", "error", err)
			return "", fmt.Errorf("refresh: %w", err)
		}

		c.mu.Lock()
		// 別のログインで差し替わっていたら触らない
		if c.refresh == refresh {
			c.access, c.refresh = "", ""
			c.gen++
		}
		c.mu.Unlock()

		c.log.Info(ctx, "session lost")
		if c.onLost != nil {
			c.onLost()
		}
		return "", ErrSessionLost
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refresh == refresh {
		c.access = access
		c.gen++
	}
	return access, nil
}
