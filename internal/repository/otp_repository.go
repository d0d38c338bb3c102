package repository

import (
	"context"
	"errors"
	"time"

	"talentauth/internal/domain/model"
)

var ErrOtpNotFound = errors.New("otp not found")

type OtpRepository interface {
	Create(ctx context.Context, otp *model.OtpCode) error
	// (user, purpose) の最新行。使用済みでも返す
	FindLatest(ctx context.Context, userID string, purpose model.OtpPurpose) (*model.OtpCode, error)
	// used_at IS NULL の行だけを更新する。0件なら ErrOtpNotFound
	MarkUsed(ctx context.Context, otpID string, usedAt time.Time) error
}
