package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"talentauth/internal/domain/model"
	"talentauth/internal/logging"
	"talentauth/internal/repository"
	auth "talentauth/internal/usecase/auth_usecase"
)

var (
	//400 入力不足
	ErrValidation = auth.ErrValidation
	//401 認証失敗（理由は区別しない）
	ErrUnauthorized = auth.ErrInvalidCredential
	//401 OTP不一致・期限切れ・使用済み
	ErrInvalidOrExpiredOtp = auth.ErrInvalidOrExpiredOtp
	//404
	ErrNotFound = auth.ErrNotFound
	//409 競合
	ErrConflict = auth.ErrConflict
	//503 外部サービス未設定
	ErrUnconfigured = auth.ErrUnconfigured
	//429
	ErrTooManyAttempts = auth.ErrTooManyAttempts
	//403 権限
	ErrForbidden = errors.New("forbidden")
)

// usecaseがValidatorInterfaceに依存する約束
type AuthValidator interface {
	ValidateRegister(ctx context.Context, email string, password string, name string) error
	ValidateLogin(ctx context.Context, email string, password string) error
	ValidateWalletAddress(ctx context.Context, address string) error
	ValidateVerifyOtp(ctx context.Context, address string, code string) error
	ValidateRefresh(ctx context.Context, refreshToken string) error
	ValidateAddWallet(ctx context.Context, address string, network string, currency string) error
	ValidateForceLogout(ctx context.Context, targetUserID string) error
}

type WalletDTO struct {
	Address   string `json:"address"`
	Network   string `json:"network"`
	Currency  string `json:"currency"`
	IsDefault bool   `json:"isDefault"`
}

// 公開してよいユーザー情報（password hashは含めない）
type UserDTO struct {
	ID      string      `json:"id"`
	Email   string      `json:"email"`
	Name    string      `json:"name"`
	Wallets []WalletDTO `json:"wallets"`
}

type SessionResponse struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	User         UserDTO `json:"user"`
}

type AuthRegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// recoveryPhraseはこのレスポンスでしか返さない
type AuthRegisterResponse struct {
	SessionResponse
	RecoveryPhrase string `json:"recoveryPhrase"`
}

// email+password か walletAddress のどちらか
type AuthLoginRequest struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	WalletAddress string `json:"walletAddress"`
}

type WalletLoginResponse struct {
	RequiresOtp bool `json:"requiresOtp"`
}

type VerifyOtpRequest struct {
	WalletAddress string `json:"walletAddress"`
	Code          string `json:"code"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type AddWalletRequest struct {
	Address   string `json:"address"`
	Network   string `json:"network"`
	Currency  string `json:"currency"`
	Provider  string `json:"provider"`
	IsDefault bool   `json:"isDefault"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

type ForceLogoutResponse struct {
	UserID        string `json:"userId"`
	RevokedTokens int64  `json:"revokedTokens"`
}

// 監査ログ用のリクエスト情報
type RequestMeta struct {
	IP string
}

// AuthUsecase はセッションまわりの唯一の入口。
type AuthUsecase struct {
	tokens      *auth.TokenService
	register    *auth.RegisterUserUsecase
	login       *auth.LoginUsecase
	walletLogin *auth.WalletLogin
	users       repository.UserRepository
	wallets     repository.WalletRepository
	txm         repository.TransactionManager
	audits      repository.AuditLogRepository
	validator   AuthValidator
	idGen       auth.IDGenerator
	logger      logging.Logger
}

func NewAuthUsecase(
	tokens *auth.TokenService,
	register *auth.RegisterUserUsecase,
	login *auth.LoginUsecase,
	walletLogin *auth.WalletLogin,
	users repository.UserRepository,
	wallets repository.WalletRepository,
	txm repository.TransactionManager,
	audits repository.AuditLogRepository,
	validator AuthValidator,
	idGen auth.IDGenerator,
	logger logging.Logger,
) *AuthUsecase {
	return &AuthUsecase{
		tokens:      tokens,
		register:    register,
		login:       login,
		walletLogin: walletLogin,
		users:       users,
		wallets:     wallets,
		txm:         txm,
		audits:      audits,
		validator:   validator,
		idGen:       idGen,
		logger:      logger,
	}
}

func (u *AuthUsecase) Register(ctx context.Context, req AuthRegisterRequest, meta RequestMeta) (*AuthRegisterResponse, error) {
	//入力検証（validatorに寄せる）
	if err := u.validator.ValidateRegister(ctx, req.Email, req.Password, req.Name); err != nil {
		return nil, err
	}

	out, err := u.register.Execute(ctx, auth.RegisterUserInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		return nil, err
	}

	u.audit(ctx, meta, out.Session.User.ID, model.AuditActionRegister, model.AuditResourceUser, out.Session.User.ID,
		map[string]any{"wallets": len(out.Session.User.Wallets)})

	return &AuthRegisterResponse{
		SessionResponse: toSessionResponse(out.Session),
		RecoveryPhrase:  out.RecoveryPhrase,
	}, nil
}

func (u *AuthUsecase) Login(ctx context.Context, req AuthLoginRequest, meta RequestMeta) (*SessionResponse, error) {
	if err := u.validator.ValidateLogin(ctx, req.Email, req.Password); err != nil {
		return nil, err
	}

	session, err := u.login.Execute(ctx, auth.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			u.audit(ctx, meta, "", model.AuditActionLoginFailed, model.AuditResourceUser, "", map[string]any{"method": "password"})
		}
		return nil, err
	}

	u.audit(ctx, meta, session.User.ID, model.AuditActionLogin, model.AuditResourceUser, session.User.ID, map[string]any{"method": "password"})
	res := toSessionResponse(session)
	return &res, nil
}

func (u *AuthUsecase) InitiateWalletLogin(ctx context.Context, req AuthLoginRequest, meta RequestMeta) (*WalletLoginResponse, error) {
	if err := u.validator.ValidateWalletAddress(ctx, req.WalletAddress); err != nil {
		return nil, err
	}

	out, err := u.walletLogin.Initiate(ctx, req.WalletAddress)
	if err != nil {
		return nil, err
	}

	u.audit(ctx, meta, out.UserID, model.AuditActionOtpIssued, model.AuditResourceWallet, model.NormalizeAddress(req.WalletAddress), nil)
	return &WalletLoginResponse{RequiresOtp: out.RequiresOtp}, nil
}

func (u *AuthUsecase) VerifyOtp(ctx context.Context, req VerifyOtpRequest, meta RequestMeta) (*SessionResponse, error) {
	if err := u.validator.ValidateVerifyOtp(ctx, req.WalletAddress, req.Code); err != nil {
		return nil, err
	}

	address := model.NormalizeAddress(req.WalletAddress)
	session, err := u.walletLogin.Verify(ctx, req.WalletAddress, strings.TrimSpace(req.Code))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidOrExpiredOtp) || errors.Is(err, auth.ErrTooManyAttempts) {
			u.audit(ctx, meta, "", model.AuditActionOtpFailed, model.AuditResourceWallet, address, nil)
		}
		return nil, err
	}

	u.audit(ctx, meta, session.User.ID, model.AuditActionOtpRedeemed, model.AuditResourceWallet, address, nil)
	u.audit(ctx, meta, session.User.ID, model.AuditActionLogin, model.AuditResourceUser, session.User.ID, map[string]any{"method": "wallet"})
	res := toSessionResponse(session)
	return &res, nil
}

func (u *AuthUsecase) Refresh(ctx context.Context, req RefreshRequest, meta RequestMeta) (*RefreshResponse, error) {
	//入力検証
	if err := u.validator.ValidateRefresh(ctx, req.RefreshToken); err != nil {
		return nil, err
	}

	at, err := u.tokens.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, err
	}
	return &RefreshResponse{AccessToken: at.Value}, nil
}

// 提示されたアクセストークンだけを失効する。何があっても成功を返す。
func (u *AuthUsecase) Logout(ctx context.Context, accessToken string, meta RequestMeta) *SuccessResponse {
	if accessToken != "" {
		if record, err := u.tokens.Authenticate(ctx, accessToken, model.TokenKindAccess); err == nil {
			u.audit(ctx, meta, record.UserID, model.AuditActionLogout, model.AuditResourceToken, record.ID, nil)
		}
		if err := u.tokens.Revoke(ctx, accessToken); err != nil {
			u.logger.Warn(ctx, "revoke on logout failed", "error", err)
		}
	}
	return &SuccessResponse{Message: "logout success"}
}

// Bearerのアクセストークンを保存済みレコードで確認する
func (u *AuthUsecase) Authenticate(ctx context.Context, accessToken string) (*model.Token, error) {
	return u.tokens.Authenticate(ctx, accessToken, model.TokenKindAccess)
}

func (u *AuthUsecase) Validate(ctx context.Context, token string) bool {
	return u.tokens.Validate(ctx, token)
}

func (u *AuthUsecase) Me(ctx context.Context, userID string) (*UserDTO, error) {
	user, err := u.activeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	dto := toUserDTO(user)
	return &dto, nil
}

// 管理者フラグは毎回DBから読む
func (u *AuthUsecase) IsAdmin(ctx context.Context, userID string) (bool, error) {
	user, err := u.activeUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.IsAdmin, nil
}

// ウォレットを追加する。最初の1件かisDefault指定ならdefaultにする
func (u *AuthUsecase) AddWallet(ctx context.Context, userID string, req AddWalletRequest, meta RequestMeta) (*WalletDTO, error) {
	if err := u.validator.ValidateAddWallet(ctx, req.Address, req.Network, req.Currency); err != nil {
		return nil, err
	}
	if _, err := u.activeUser(ctx, userID); err != nil {
		return nil, err
	}

	provider := req.Provider
	if provider == "" {
		provider = "external"
	}
	w := &model.Wallet{
		ID:        u.idGen.NewID(),
		UserID:    userID,
		Address:   model.NormalizeAddress(req.Address),
		Network:   req.Network,
		Currency:  req.Currency,
		Provider:  provider,
		IsDefault: req.IsDefault,
	}

	err := u.txm.WithinTx(ctx, func(r repository.TxRepos) error {
		existing, err := r.Wallets().ListByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			w.IsDefault = true
		}
		if w.IsDefault {
			if err := r.Wallets().ClearDefault(ctx, userID); err != nil {
				return err
			}
		}
		return r.Wallets().Create(ctx, w)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("add wallet: %w", err)
	}

	u.audit(ctx, meta, userID, model.AuditActionWalletAdded, model.AuditResourceWallet, w.Address,
		map[string]any{"network": w.Network, "currency": w.Currency, "isDefault": w.IsDefault})
	dto := toWalletDTO(*w)
	return &dto, nil
}

// defaultは1ユーザー1件。外してから付け直す
func (u *AuthUsecase) SetDefaultWallet(ctx context.Context, userID string, address string, meta RequestMeta) (*UserDTO, error) {
	if err := u.validator.ValidateWalletAddress(ctx, address); err != nil {
		return nil, err
	}

	w, err := u.wallets.FindByAddress(ctx, model.NormalizeAddress(address))
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find wallet: %w", err)
	}
	// 他人のウォレットは存在しない扱い
	if w.UserID != userID {
		return nil, ErrNotFound
	}

	err = u.txm.WithinTx(ctx, func(r repository.TxRepos) error {
		if err := r.Wallets().ClearDefault(ctx, userID); err != nil {
			return err
		}
		return r.Wallets().SetDefault(ctx, w.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("set default wallet: %w", err)
	}

	u.audit(ctx, meta, userID, model.AuditActionWalletDefaultChanged, model.AuditResourceWallet, w.Address, nil)
	return u.Me(ctx, userID)
}

// 管理者による強制ログアウト
func (u *AuthUsecase) ForceLogout(ctx context.Context, actorID string, targetUserID string, meta RequestMeta) (*ForceLogoutResponse, error) {
	if err := u.validator.ValidateForceLogout(ctx, targetUserID); err != nil {
		return nil, err
	}

	if _, err := u.users.FindByID(ctx, targetUserID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	n, err := u.tokens.RevokeAllForUser(ctx, targetUserID)
	if err != nil {
		return nil, err
	}

	u.audit(ctx, meta, actorID, model.AuditActionRevokeAll, model.AuditResourceUser, targetUserID, map[string]any{"revoked": n})
	return &ForceLogoutResponse{UserID: targetUserID, RevokedTokens: n}, nil
}

func (u *AuthUsecase) ListAuditLogs(ctx context.Context, filter repository.AuditLogFilter) ([]model.AuditLog, error) {
	logs, err := u.audits.List(ctx, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

// 期限切れからretention以上経ったトークンを消す
func (u *AuthUsecase) PurgeExpiredTokens(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	return u.tokens.PurgeExpired(ctx, now.Add(-retention))
}

func (u *AuthUsecase) activeUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	user, err := u.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// 監査ログの失敗で本処理は失敗させない
func (u *AuthUsecase) audit(ctx context.Context, meta RequestMeta, actorID string, action model.AuditAction, rt model.AuditResourceType, resourceID string, detail map[string]any) {
	log := model.AuditLog{
		ActorUserID:  actorID,
		Action:       action,
		ResourceType: rt,
		ResourceID:   resourceID,
		IP:           meta.IP,
	}
	if detail != nil {
		b, err := json.Marshal(detail)
		if err == nil {
			log.Detail = string(b)
		}
	}
	if err := u.audits.Create(ctx, log); err != nil {
		u.logger.Warn(ctx, "audit log write failed", "action", string(action), "error", err)
	}
}

func toSessionResponse(s auth.Session) SessionResponse {
	return SessionResponse{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		User:         toUserDTO(s.User),
	}
}

// model.UserをAPI返却用DTOに変換。
func toUserDTO(u *model.User) UserDTO {
	wallets := make([]WalletDTO, 0, len(u.Wallets))
	for _, w := range u.Wallets {
		wallets = append(wallets, toWalletDTO(w))
	}
	return UserDTO{
		ID:      u.ID,
		Email:   u.Email,
		Name:    u.Name,
		Wallets: wallets,
	}
}

func toWalletDTO(w model.Wallet) WalletDTO {
	return WalletDTO{
		Address:   w.Address,
		Network:   w.Network,
		Currency:  w.Currency,
		IsDefault: w.IsDefault,
	}
}
