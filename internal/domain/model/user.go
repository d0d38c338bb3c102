package model

import "time"

type User struct {
	ID           string     `json:"id" gorm:"type:uuid;primaryKey"`
	Email        string     `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string     `json:"-" gorm:"column:password_hash;not null"`
	Name         string     `json:"name" gorm:"not null"`
	IsAdmin      bool       `json:"isAdmin" gorm:"not null"`
	IsActive     bool       `json:"isActive" gorm:"not null"`
	LastLoginAt  *time.Time `json:"lastLoginAt"`
	Timestamp    Timestamp  `json:"timestamps" gorm:"embedded"`

	Wallets []Wallet `json:"wallets" gorm:"foreignKey:UserID"`
}
