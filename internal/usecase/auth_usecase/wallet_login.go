package auth

import (
	"context"
	"errors"
	"fmt"

	"talentauth/internal/domain/model"
	"talentauth/internal/repository"
)

type OtpChallenger interface {
	Issue(ctx context.Context, user *model.User, purpose model.OtpPurpose) (*model.OtpCode, error)
	Redeem(ctx context.Context, userID string, purpose model.OtpPurpose, code string) error
}

type SessionIssuer interface {
	IssueSession(ctx context.Context, user *model.User) (Session, error)
}

type WalletLoginInitiateOutput struct {
	RequiresOtp bool
	UserID      string
}

// WalletLogin はアドレスから所有ユーザーを引き、OTP経由でセッションを発行する。
type WalletLogin struct {
	wallets repository.WalletRepository
	users   repository.UserRepository
	otp     OtpChallenger
	tokens  SessionIssuer
}

func NewWalletLogin(
	wallets repository.WalletRepository,
	users repository.UserRepository,
	otp OtpChallenger,
	tokens SessionIssuer,
) *WalletLogin {
	return &WalletLogin{wallets: wallets, users: users, otp: otp, tokens: tokens}
}

// 未登録アドレスは ErrNotFound（アカウントは作らない）
func (w *WalletLogin) Initiate(ctx context.Context, address string) (WalletLoginInitiateOutput, error) {
	user, err := w.resolve(ctx, address)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidCredential) {
			return WalletLoginInitiateOutput{}, ErrNotFound
		}
		return WalletLoginInitiateOutput{}, err
	}

	if _, err := w.otp.Issue(ctx, user, model.OtpPurposeWalletLogin); err != nil {
		return WalletLoginInitiateOutput{}, err
	}
	return WalletLoginInitiateOutput{RequiresOtp: true, UserID: user.ID}, nil
}

// verify側では未登録アドレスもOTP失敗と同じ扱いにする
func (w *WalletLogin) Verify(ctx context.Context, address string, code string) (Session, error) {
	user, err := w.resolve(ctx, address)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidCredential) {
			return Session{}, ErrInvalidOrExpiredOtp
		}
		return Session{}, err
	}

	if err := w.otp.Redeem(ctx, user.ID, model.OtpPurposeWalletLogin, code); err != nil {
		return Session{}, err
	}
	return w.tokens.IssueSession(ctx, user)
}

func (w *WalletLogin) resolve(ctx context.Context, address string) (*model.User, error) {
	addr := model.NormalizeAddress(address)
	if addr == "" {
		return nil, ErrNotFound
	}

	wallet, err := w.wallets.FindByAddress(ctx, addr)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find wallet: %w", err)
	}

	user, err := w.users.FindByID(ctx, wallet.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidCredential
	}
	return user, nil
}
