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

type tokenGormRepository struct {
	db *gorm.DB //DB接続（GORM）
}

// GORM実装
func NewTokenGormRepository(db *gorm.DB) repo.TokenRepository {
	return &tokenGormRepository{db: db}
}

// トークンレコードを保存。
func (r *tokenGormRepository) Create(ctx context.Context, token *model.Token) error {
	//タイムアウトやキャンセルをDB処理に伝える
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

// token_hashで1件検索します。
func (r *tokenGormRepository) FindByHash(ctx context.Context, tokenHash string) (*model.Token, error) {
	var token model.Token

	err := r.db.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		First(&token).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repo.ErrTokenNotFound
		}
		return nil, fmt.Errorf("find token: %w", err)
	}

	return &token, nil
}

// revoked_atをセットして無効。条件付きUPDATEなので同時実行でも1回しか成功しない。
func (r *tokenGormRepository) RevokeByHash(ctx context.Context, tokenHash string, revokedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.Token{}).
		Where("token_hash = ? AND revoked_at IS NULL", tokenHash).
		Update("revoked_at", revokedAt)

	if result.Error != nil {
		return fmt.Errorf("revoke token: %w", result.Error)
	}
	// 0件なら「すでに失効済み/存在しない」
	if result.RowsAffected == 0 {
		return repo.ErrTokenNotFound
	}

	return nil
}

// 指定ユーザーの有効なトークンを全て失効します。
func (r *tokenGormRepository) RevokeAllByUserID(ctx context.Context, userID string, revokedAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Token{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", revokedAt)
	if result.Error != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// 期限切れの行を削除。
func (r *tokenGormRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&model.Token{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}
