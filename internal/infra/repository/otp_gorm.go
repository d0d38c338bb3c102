package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"talentauth/internal/domain/model"
	repo "talentauth/internal/repository"

	"gorm.io/gorm"
)

type otpGormRepository struct {
	db *gorm.DB
}

func NewOtpGormRepository(db *gorm.DB) repo.OtpRepository {
	return &otpGormRepository{db: db}
}

func (r *otpGormRepository) Create(ctx context.Context, otp *model.OtpCode) error {
	if err := r.db.WithContext(ctx).Create(otp).Error; err != nil {
		return fmt.Errorf("create otp: %w", err)
	}
	return nil
}

// (user, purpose)の最新行。古い行は残るが引き換え対象にはならない。
// 同一時刻なら後から挿入した行（seqが大きい方）を返す。
func (r *otpGormRepository) FindLatest(ctx context.Context, userID string, purpose model.OtpPurpose) (*model.OtpCode, error) {
	var otp model.OtpCode

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND purpose = ?", userID, purpose).
		Order("created_at DESC").
		Order("seq DESC").
		First(&otp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repo.ErrOtpNotFound
		}
		return nil, fmt.Errorf("find latest otp: %w", err)
	}
	return &otp, nil
}

// used_at をセットして「使用済み」にします。
func (r *otpGormRepository) MarkUsed(ctx context.Context, otpID string, usedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.OtpCode{}).
		Where("id = ? AND used_at IS NULL", otpID).
		Update("used_at", usedAt)

	if result.Error != nil {
		return fmt.Errorf("mark otp used: %w", result.Error)
	}

	// 更新件数が0なら「すでに使用済み/存在しない」
	if result.RowsAffected == 0 {
		return repo.ErrOtpNotFound
	}

	return nil
}
