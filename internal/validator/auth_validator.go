package validator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"talentauth/internal/usecase"
)

var (
	// 入力が不正
	ErrInvalidInput = fmt.Errorf("%w: invalid input", usecase.ErrValidation)

	// refresh tokenが不正
	ErrInvalidRefresh = fmt.Errorf("%w: invalid refresh", usecase.ErrValidation)
)

var (
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	otpRe   = regexp.MustCompile(`^[0-9]{6}$`)
)

const (
	maxNameLen    = 100
	maxAddressLen = 128
	maxTagLen     = 32
)

type authValidator struct{}

// Usecaseは interface を依存注入
func NewAuthValidator() usecase.AuthValidator {
	return &authValidator{}
}

// サインアップの入力を検証（email重複はusecase側）
func (v *authValidator) ValidateRegister(ctx context.Context, email string, password string, name string) error {
	email = strings.TrimSpace(email)

	// 必須チェック
	if email == "" || password == "" {
		return ErrInvalidInput
	}

	// email形式
	if !isEmailLike(email) {
		return ErrInvalidInput
	}

	// パスワード最低文字数
	if len(password) < 8 {
		return ErrInvalidInput
	}

	if len([]rune(name)) > maxNameLen {
		return ErrInvalidInput
	}

	return nil
}

// ログインの入力を検証
func (v *authValidator) ValidateLogin(ctx context.Context, email string, password string) error {
	email = strings.TrimSpace(email)

	// 必須チェック
	if email == "" || password == "" {
		return ErrInvalidInput
	}

	// email形式
	if !isEmailLike(email) {
		return ErrInvalidInput
	}

	return nil
}

func (v *authValidator) ValidateWalletAddress(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" || len(address) > maxAddressLen {
		return ErrInvalidInput
	}
	if strings.IndexFunc(address, unicode.IsSpace) >= 0 {
		return ErrInvalidInput
	}
	return nil
}

// コードは6桁の数字
func (v *authValidator) ValidateVerifyOtp(ctx context.Context, address string, code string) error {
	if err := v.ValidateWalletAddress(ctx, address); err != nil {
		return err
	}
	if !otpRe.MatchString(strings.TrimSpace(code)) {
		return ErrInvalidInput
	}
	return nil
}

// refresh 入力を検証
func (v *authValidator) ValidateRefresh(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return ErrInvalidRefresh
	}

	return nil
}

func (v *authValidator) ValidateAddWallet(ctx context.Context, address string, network string, currency string) error {
	if err := v.ValidateWalletAddress(ctx, address); err != nil {
		return err
	}
	if !isTag(network) || !isTag(currency) {
		return ErrInvalidInput
	}
	return nil
}

// 強制ログアウトの入力を検証
func (v *authValidator) ValidateForceLogout(ctx context.Context, targetUserID string) error {
	if _, err := uuid.Parse(targetUserID); err != nil {
		return ErrInvalidInput
	}
	return nil
}

// 簡易メール形式をチェック
func isEmailLike(s string) bool {
	return emailRe.MatchString(s)
}

// network / currency のような短い識別子
func isTag(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && len(s) <= maxTagLen && strings.IndexFunc(s, unicode.IsSpace) < 0
}
