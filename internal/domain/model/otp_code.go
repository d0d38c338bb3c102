package model

import "time"

type OtpPurpose string

const (
	OtpPurposeWalletLogin OtpPurpose = "WALLET_LOGIN"
)

// OTPの状態。保存はせず、読み出し時に時刻から評価する。
type OtpStatus string

const (
	OtpStatusIssued   OtpStatus = "ISSUED"
	OtpStatusRedeemed OtpStatus = "REDEEMED"
	OtpStatusExpired  OtpStatus = "EXPIRED"
)

// ワンタイムコード。古い行は削除せず、常に最新行だけが引き換え対象。
type OtpCode struct {
	ID        string     `json:"id" gorm:"type:uuid;primaryKey"`
	UserID    string     `json:"userId" gorm:"type:uuid;not null;index:idx_otp_user_purpose"`
	Purpose   OtpPurpose `json:"purpose" gorm:"type:varchar(30);not null;index:idx_otp_user_purpose"`
	CodeHash  string     `json:"-" gorm:"not null"`
	ExpiresAt time.Time  `json:"expiresAt" gorm:"not null"`
	UsedAt    *time.Time `json:"usedAt"`
	CreatedAt time.Time  `json:"createdAt" gorm:"not null;index:idx_otp_user_purpose"`
	// 挿入順の連番。DBが採番する（同一時刻の並び順用）
	Seq int64 `json:"-" gorm:"->"`
}

func (o *OtpCode) Status(now time.Time) OtpStatus {
	if o.UsedAt != nil {
		return OtpStatusRedeemed
	}
	if !now.Before(o.ExpiresAt) {
		return OtpStatusExpired
	}
	return OtpStatusIssued
}
