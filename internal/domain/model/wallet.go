package model

import "strings"

// ユーザーに紐づくウォレット。addressは全体で一意。
type Wallet struct {
	ID       string `json:"id" gorm:"type:uuid;primaryKey"`
	UserID   string `json:"userId" gorm:"type:uuid;not null;index"`
	Address  string `json:"address" gorm:"uniqueIndex;not null"`
	Network  string `json:"network" gorm:"not null"`
	Currency string `json:"currency" gorm:"not null"`
	Provider string `json:"provider" gorm:"not null"`
	// 1ユーザーにつきtrueは最大1件（usecase側で保証）
	IsDefault bool `json:"isDefault" gorm:"not null"`
	// リカバリシークレットのsha256（平文は保存しない）
	SecretFingerprint string    `json:"-" gorm:"column:secret_fingerprint"`
	Timestamp         Timestamp `json:"timestamps" gorm:"embedded"`
}

// addressの比較は大文字小文字を区別しない
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
