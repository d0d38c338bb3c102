package auth

import (
	"errors"
	"fmt"
)

var (
	// パスワード違い・トークン不正/期限切れ/失効（理由は区別しない）
	ErrInvalidCredential = errors.New("invalid credential")

	// OTPの不一致・期限切れ・使用済み・古いコード（理由は区別しない）
	ErrInvalidOrExpiredOtp = errors.New("invalid or expired otp")

	// 未登録のウォレット/ユーザー
	ErrNotFound = errors.New("not found")

	// email / address の重複
	ErrConflict = errors.New("conflict")

	// 必要な外部サービスが未設定
	ErrUnconfigured = errors.New("unconfigured")

	// 失敗回数の上限
	ErrTooManyAttempts = errors.New("too many attempts")

	// 入力が不正
	ErrValidation = errors.New("validation error")
)

var (
	ErrInvalidEmailFormat = fmt.Errorf("%w: invalid email format", ErrValidation)
	ErrPasswordTooShort   = fmt.Errorf("%w: password too short", ErrValidation)
	ErrWeakPassword       = fmt.Errorf("%w: weak password", ErrValidation)
)
