package model

import "time"

type TokenKind string

const (
	TokenKindAccess  TokenKind = "ACCESS"
	TokenKindRefresh TokenKind = "REFRESH"
)

// 発行済みトークンの永続レコード。
// 署名済みトークン本体は保存せず、hashだけを持つ。
type Token struct {
	ID        string     `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string     `json:"userId" gorm:"type:uuid;not null;index"`
	Kind      TokenKind  `json:"kind" gorm:"type:varchar(10);not null"`
	TokenHash string     `json:"-" gorm:"not null;uniqueIndex"`
	ExpiresAt time.Time  `json:"expiresAt" gorm:"not null;index"`
	RevokedAt *time.Time `json:"revokedAt" gorm:"index"`
	Timestamp Timestamp  `json:"timestamps" gorm:"embedded"`
}

// 失効していない && 期限内 のときだけ有効
func (t *Token) IsValid(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
