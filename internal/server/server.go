package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"talentauth/internal/logging"
)

const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	writeTimeout      = 15 * time.Second
	idleTimeout       = 60 * time.Second
)

type Server struct {
	e   *echo.Echo
	log logging.Logger
}

// echoを組み立ててルートを登録する。
// requestTimeout > 0 ならリクエストのcontextに期限を付ける（ストア呼び出しもこれで打ち切られる）。
func New(log logging.Logger, requestTimeout time.Duration, handlers ...RouteRegistrar) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			// URIはクエリを含むので path だけ出す
			args := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"remote_ip", v.RemoteIP,
			}
			if v.Error != nil {
				log.Warn(c.Request().Context(), "request", append(args, "error", v.Error)...)
				return nil
			}
			log.Info(c.Request().Context(), "request", args...)
			return nil
		},
	}))

	// ロガーより内側に置き、期限切れは503として記録させる
	if requestTimeout > 0 {
		e.Use(echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
			Timeout: requestTimeout,
			ErrorHandler: func(err error, c echo.Context) error {
				if errors.Is(err, context.DeadlineExceeded) {
					return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "TIMEOUT"})
				}
				return err
			},
		}))
	}

	RegisterRoutes(e, handlers...)
	return &Server{e: e, log: log}
}

func (s *Server) Handler() http.Handler {
	return s.e
}

// Startはブロックする。Shutdown後は nil を返す
func (s *Server) Start(addr string) error {
	// Shutdownはe.Serverを止めるので、同じServerを使う
	srv := s.e.Server
	srv.ReadHeaderTimeout = readHeaderTimeout
	srv.ReadTimeout = readTimeout
	srv.WriteTimeout = writeTimeout
	srv.IdleTimeout = idleTimeout

	s.log.Info(context.Background(), "server listening", "addr", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// テスト用に任意のlistenerで動かす
func (s *Server) Serve(l net.Listener) error {
	s.e.Listener = l
	return s.Start("")
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
