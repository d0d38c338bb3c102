package model

import "time"

// 認証まわりの操作種別。
type AuditAction string

const (
	AuditActionRegister             AuditAction = "REGISTER"
	AuditActionLogin                AuditAction = "LOGIN"
	AuditActionLoginFailed          AuditAction = "LOGIN_FAILED"
	AuditActionOtpIssued            AuditAction = "OTP_ISSUED"
	AuditActionOtpRedeemed          AuditAction = "OTP_REDEEMED"
	AuditActionOtpFailed            AuditAction = "OTP_FAILED"
	AuditActionRefresh              AuditAction = "REFRESH"
	AuditActionLogout               AuditAction = "LOGOUT"
	AuditActionRevokeAll            AuditAction = "REVOKE_ALL"
	AuditActionWalletAdded          AuditAction = "WALLET_ADDED"
	AuditActionWalletDefaultChanged AuditAction = "WALLET_DEFAULT_CHANGED"
)

// 何に対する操作か
type AuditResourceType string

const (
	//ユーザーに対する操作。
	AuditResourceUser AuditResourceType = "user"

	//ウォレットに対する操作。
	AuditResourceWallet AuditResourceType = "wallet"

	//トークンに対する操作。
	AuditResourceToken AuditResourceType = "token"
)

// 監査ログ。
// 「誰が」「何を」「どの対象に」を残す。パスワード・コード・トークン値は絶対に入れない。
type AuditLog struct {
	//IDは監査ログの主キー
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	//操作したユーザーのID（ログイン失敗などで不明なら空）。
	ActorUserID string `gorm:"type:varchar(64);index" json:"actorUserId"`

	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resourceType"`

	ResourceID string `gorm:"type:varchar(128);index" json:"resourceId"`

	//JSON文字列で保存する。
	Detail string `gorm:"type:text" json:"detail"`

	IP string `gorm:"type:varchar(64)" json:"ip"`

	//作成時刻
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}
