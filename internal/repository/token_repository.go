package repository

import (
	"context"
	"errors"
	"time"

	"talentauth/internal/domain/model"
)

var ErrTokenNotFound = errors.New("token not found")

// トークンレコードの保存・取得・失効
type TokenRepository interface {
	Create(ctx context.Context, token *model.Token) error
	FindByHash(ctx context.Context, tokenHash string) (*model.Token, error)
	// revoked_at IS NULL の行だけを更新する。0件なら ErrTokenNotFound
	RevokeByHash(ctx context.Context, tokenHash string, revokedAt time.Time) error
	// 指定ユーザーの有効なトークンを全て失効。件数を返す
	RevokeAllByUserID(ctx context.Context, userID string, revokedAt time.Time) (int64, error)
	// before より前に期限切れになった行を削除
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
