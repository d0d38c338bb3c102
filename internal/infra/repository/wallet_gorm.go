package repository

import (
	"context"
	"errors"
	"fmt"

	"talentauth/internal/domain/model"
	repo "talentauth/internal/repository"

	"gorm.io/gorm"
)

type walletGormRepository struct {
	db *gorm.DB
}

func NewWalletGormRepository(db *gorm.DB) repo.WalletRepository {
	return &walletGormRepository{db: db}
}

func (r *walletGormRepository) Create(ctx context.Context, wallet *model.Wallet) error {
	if err := r.db.WithContext(ctx).Create(wallet).Error; err != nil {
		if isDuplicate(err) {
			return repo.ErrDuplicate
		}
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

func (r *walletGormRepository) FindByAddress(ctx context.Context, address string) (*model.Wallet, error) {
	var w model.Wallet

	err := r.db.WithContext(ctx).
		Where("address = ?", address).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repo.ErrWalletNotFound
		}
		return nil, fmt.Errorf("find wallet: %w", err)
	}
	return &w, nil
}

func (r *walletGormRepository) ListByUserID(ctx context.Context, userID string) ([]model.Wallet, error) {
	var wallets []model.Wallet
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&wallets).Error; err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return wallets, nil
}

// defaultを全部外す
func (r *walletGormRepository) ClearDefault(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Update("is_default", false).Error; err != nil {
		return fmt.Errorf("clear default wallet: %w", err)
	}
	return nil
}

func (r *walletGormRepository) SetDefault(ctx context.Context, walletID string) error {
	res := r.db.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("id = ?", walletID).
		Update("is_default", true)
	if res.Error != nil {
		return fmt.Errorf("set default wallet: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return repo.ErrWalletNotFound
	}
	return nil
}
