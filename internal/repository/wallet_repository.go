package repository

import (
	"context"
	"errors"

	"talentauth/internal/domain/model"
)

var ErrWalletNotFound = errors.New("wallet not found")

type WalletRepository interface {
	Create(ctx context.Context, wallet *model.Wallet) error
	// addressは正規化済みで渡す
	FindByAddress(ctx context.Context, address string) (*model.Wallet, error)
	ListByUserID(ctx context.Context, userID string) ([]model.Wallet, error)
	// 指定ユーザーのdefaultを全て外す
	ClearDefault(ctx context.Context, userID string) error
	SetDefault(ctx context.Context, walletID string) error
}
