package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"talentauth/internal/domain/model"
	"talentauth/internal/infra/mailer"
	"talentauth/internal/logging"
	"talentauth/internal/repository"
)

// 会員登録の入力
type RegisterUserInput struct {
	Email    string
	Password string
	Name     string
}

// 会員登録の出力。RecoveryPhraseはこのレスポンスでしか返さない。
type RegisterUserOutput struct {
	Session        Session
	RecoveryPhrase string
}

// 登録時のウォレットを用意する。リカバリフレーズの平文は保存しない。
type WalletProvisioner interface {
	Provision(ctx context.Context, userID string) ([]model.Wallet, string, error)
}

type WelcomeMailer interface {
	SendWelcomeEmail(ctx context.Context, to string, name string) error
}

// RegisterUserUsecaseは会員登録の処理。
type RegisterUserUsecase struct {
	userRepo    repository.UserRepository
	txm         repository.TransactionManager
	hasher      PasswordHasher
	provisioner WalletProvisioner
	tokens      SessionIssuer
	mailer      WelcomeMailer
	idGen       IDGenerator
	logger      logging.Logger
}

// DI
func NewRegisterUserUsecase(
	userRepo repository.UserRepository,
	txm repository.TransactionManager,
	hasher PasswordHasher,
	provisioner WalletProvisioner,
	tokens SessionIssuer,
	mailer WelcomeMailer,
	idGen IDGenerator,
	logger logging.Logger,
) *RegisterUserUsecase {
	return &RegisterUserUsecase{
		userRepo:    userRepo,
		txm:         txm,
		hasher:      hasher,
		provisioner: provisioner,
		tokens:      tokens,
		mailer:      mailer,
		idGen:       idGen,
		logger:      logger,
	}
}

// 会員登録実行
func (u *RegisterUserUsecase) Execute(ctx context.Context, in RegisterUserInput) (RegisterUserOutput, error) {
	var out RegisterUserOutput

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if err := validateRegistration(email, in.Password); err != nil {
		return out, err
	}

	// email重複チェック
	existing, err := u.userRepo.FindByEmail(ctx, email)
	if err == nil && existing != nil {
		return out, ErrConflict
	}
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return out, fmt.Errorf("find user: %w", err)
	}

	// パスワードをハッシュ化
	hashed, err := u.hasher.Hash(in.Password)
	if err != nil {
		return out, fmt.Errorf("hash password: %w", err)
	}

	user := &model.User{
		ID:           u.idGen.NewID(),
		Email:        email,
		PasswordHash: hashed, // 平文は保存しない
		Name:         strings.TrimSpace(in.Name),
		IsActive:     true,
	}

	wallets, phrase, err := u.provisioner.Provision(ctx, user.ID)
	if err != nil {
		return out, fmt.Errorf("provision wallets: %w", err)
	}
	for i := range wallets {
		wallets[i].ID = u.idGen.NewID()
		wallets[i].UserID = user.ID
		wallets[i].Address = model.NormalizeAddress(wallets[i].Address)
	}

	// ユーザーとウォレットは同一トランザクション
	err = u.txm.WithinTx(ctx, func(r repository.TxRepos) error {
		if err := r.Users().Create(ctx, user); err != nil {
			return err
		}
		for i := range wallets {
			if err := r.Wallets().Create(ctx, &wallets[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return out, ErrConflict
		}
		return out, fmt.Errorf("save user: %w", err)
	}
	user.Wallets = wallets

	session, err := u.tokens.IssueSession(ctx, user)
	if err != nil {
		return out, err
	}

	// ウェルカムメールの失敗で登録は失敗させない
	if err := u.mailer.SendWelcomeEmail(ctx, user.Email, user.Name); err != nil {
		if errors.Is(err, mailer.ErrUnconfigured) {
			u.logger.Debug(ctx, "welcome email skipped", "user_id", user.ID)
		} else {
			u.logger.Warn(ctx, "welcome email failed", "user_id", user.ID, "error", err)
		}
	}

	out.Session = session
	out.RecoveryPhrase = phrase
	return out, nil
}

func validateRegistration(email, password string) error {
	// emailの形式チェック
	if !isValidEmailFormat(email) {
		return ErrInvalidEmailFormat
	}

	// password の長さチェック（最小8文字）
	if len(password) < 8 {
		return ErrPasswordTooShort
	}

	// よくある弱いパスワードの拒否
	if isWeakPassword(password) {
		return ErrWeakPassword
	}
	return nil
}

// メールチェック
func isValidEmailFormat(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// パスワードのよくある弱いパスワード
func isWeakPassword(password string) bool {
	normalized := strings.ToLower(strings.TrimSpace(password))

	weak := map[string]struct{}{
		"password":     {},
		"password123":  {},
		"123456789012": {},
		"1234567890":   {},
		"12345678":     {},
		"qwerty":       {},
		"qwertyuiop":   {},
		"letmein":      {},
		"admin":        {},
		"admin123":     {},
	}

	_, ok := weak[normalized]
	return ok
}
