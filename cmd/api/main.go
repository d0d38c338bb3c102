package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"talentauth/internal/config"
	"talentauth/internal/handler"
	"talentauth/internal/infra/db"
	"talentauth/internal/infra/mailer"
	"talentauth/internal/infra/memory"
	"talentauth/internal/infra/ratelimit"
	infraRepo "talentauth/internal/infra/repository"
	"talentauth/internal/infra/wallet"
	"talentauth/internal/logging"
	"talentauth/internal/repository"
	"talentauth/internal/server"
	"talentauth/internal/usecase"
	auth "talentauth/internal/usecase/auth_usecase"
	"talentauth/internal/validator"
)

const (
	purgeInterval  = time.Hour
	purgeRetention = 24 * time.Hour
	shutdownWait   = 10 * time.Second
)

// 使うrepositoryのまとまり（postgres / memory）
type stores struct {
	users   repository.UserRepository
	wallets repository.WalletRepository
	tokens  repository.TokenRepository
	otps    repository.OtpRepository
	audits  repository.AuditLogRepository
	txm     repository.TransactionManager
	close   func() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// .envは任意（本番は環境変数を直接渡す）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.NewJSON(os.Stdout, cfg.LogLevel).With("service", "talentauth", "env", cfg.GoEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	go purgeLoop(ctx, a.uc, auth.SystemClock{}, cfg.StoreTimeout, log)

	srv := a.srv
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(":" + cfg.Port) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type app struct {
	srv   *server.Server
	uc    *usecase.AuthUsecase
	close func()
}

// 設定から依存を組み立てる
func build(ctx context.Context, cfg config.Config, log logging.Logger) (*app, error) {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	closers := []func() error{st.close}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn(context.Background(), "close", "error", err)
			}
		}
	}
	log.Info(ctx, "store ready", "driver", cfg.StoreDriver)

	//OTP試行制限（REDIS_URLが無ければ無効）
	var limiter ratelimit.AttemptLimiter = ratelimit.NoopLimiter{}
	if cfg.RedisURL != "" {
		rdb, err := ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, rdb.Close)
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.OTPMaxAttempts, auth.OtpTTL)
	} else {
		log.Warn(ctx, "REDIS_URL not set; otp attempt limit disabled")
	}

	m := mailer.New(cfg.SMTP, cfg.MailTimeout)
	if !cfg.SMTP.Configured() {
		log.Warn(ctx, "SMTP not configured; wallet login will answer 503")
	}

	//usecaseに渡す部品
	idGen := auth.UUIDGenerator{}
	clock := auth.SystemClock{}
	signer := auth.NewJWTSigner(cfg.JWTSecret, clock)

	tokens := auth.NewTokenService(st.tokens, st.users, signer, idGen, clock, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	otp := auth.NewOTPManager(st.otps, m, limiter, auth.RandomCodeGenerator{}, idGen, clock, log)
	registerUC := auth.NewRegisterUserUsecase(st.users, st.txm, auth.NewBcryptPasswordHasher(cfg.BcryptCost),
		wallet.NewLocalProvisioner(), tokens, m, idGen, log)
	loginUC := auth.NewLoginUsecase(st.users, st.wallets, auth.NewBcryptPasswordVerifier(), tokens, clock)
	walletLogin := auth.NewWalletLogin(st.wallets, st.users, otp, tokens)

	authUC := usecase.NewAuthUsecase(tokens, registerUC, loginUC, walletLogin,
		st.users, st.wallets, st.txm, st.audits, validator.NewAuthValidator(), idGen, log)

	//Handler生成
	srv := server.New(log, cfg.RequestTimeout,
		handler.NewAuthHandler(authUC, signer, cfg.LoginRateLimit, log),
		handler.NewWalletHandler(authUC, signer, log),
		handler.NewAdminUserHandler(authUC, signer, log),
	)

	return &app{srv: srv, uc: authUC, close: closeAll}, nil
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		s := memory.NewStore()
		return &stores{
			users: s.Users(), wallets: s.Wallets(), tokens: s.Tokens(), otps: s.Otps(),
			audits: s.AuditLogs(), txm: s.TxManager(),
			close: func() error { return nil },
		}, nil
	}

	gormDB, sqlDB, err := db.Connect(ctx, cfg.DSN(), cfg.StoreTimeout)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	//Repository（GORM実装）生成
	return &stores{
		users:   infraRepo.NewUserGormRepository(gormDB),
		wallets: infraRepo.NewWalletGormRepository(gormDB),
		tokens:  infraRepo.NewTokenGormRepository(gormDB),
		otps:    infraRepo.NewOtpGormRepository(gormDB),
		audits:  infraRepo.NewAuditLogGormRepository(gormDB),
		txm:     infraRepo.NewTxManagerGorm(gormDB),
		close:   sqlDB.Close,
	}, nil
}

// 期限切れトークンを定期的に掃除する
func purgeLoop(ctx context.Context, uc *usecase.AuthUsecase, clock auth.Clock, timeout time.Duration, log logging.Logger) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			n, err := uc.PurgeExpiredTokens(runCtx, clock.Now(), purgeRetention)
			cancel()
			if err != nil {
				log.Warn(ctx, "purge expired tokens", "error", err)
				continue
			}
			if n > 0 {
				log.Info(ctx, "purged expired tokens", "count", n)
			}
		}
	}
}
