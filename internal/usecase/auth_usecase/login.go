package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"talentauth/internal/repository"
)

// handlerからusecaseに渡す入力
type LoginInput struct {
	Email    string
	Password string
}

type LoginUsecase struct {
	userRepo   repository.UserRepository
	walletRepo repository.WalletRepository
	verifier   PasswordVerifier
	tokens     SessionIssuer
	clock      Clock
}

func NewLoginUsecase(
	userRepo repository.UserRepository,
	walletRepo repository.WalletRepository,
	verifier PasswordVerifier,
	tokens SessionIssuer,
	clock Clock,
) *LoginUsecase {
	return &LoginUsecase{
		userRepo:   userRepo,
		walletRepo: walletRepo,
		verifier:   verifier,
		tokens:     tokens,
		clock:      clock,
	}
}

// ログイン処理を実行する。
// 未登録・停止・パスワード違いはすべて ErrInvalidCredential。
func (u *LoginUsecase) Execute(ctx context.Context, in LoginInput) (Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	//emailでユーザー取得
	user, err := u.userRepo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return Session{}, ErrInvalidCredential
		}
		return Session{}, fmt.Errorf("find user: %w", err)
	}

	//停止ユーザーはログイン不可
	if !user.IsActive {
		return Session{}, ErrInvalidCredential
	}

	//パスワード照合
	if ok := u.verifier.Verify(in.Password, user.PasswordHash); !ok {
		return Session{}, ErrInvalidCredential
	}

	//最終ログイン時刻更新
	now := u.clock.Now()
	user.LastLoginAt = &now
	if err := u.userRepo.Update(ctx, user); err != nil {
		return Session{}, fmt.Errorf("update last login: %w", err)
	}

	wallets, err := u.walletRepo.ListByUserID(ctx, user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("list wallets: %w", err)
	}
	user.Wallets = wallets

	return u.tokens.IssueSession(ctx, user)
}
