package auth

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"talentauth/internal/domain/model"
	"talentauth/internal/repository"
)

// ログイン成功時に返すトークンの組
type Session struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             *model.User
}

type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenService はトークンの発行・検証・失効を行う。
// 署名済みの値は能力のヒントにすぎず、判定は常に保存済みレコードで行う。
type TokenService struct {
	tokens     repository.TokenRepository
	users      repository.UserRepository
	signer     *JWTSigner
	idGen      IDGenerator
	clock      Clock
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(
	tokens repository.TokenRepository,
	users repository.UserRepository,
	signer *JWTSigner,
	idGen IDGenerator,
	clock Clock,
	accessTTL time.Duration,
	refreshTTL time.Duration,
) *TokenService {
	return &TokenService{
		tokens:     tokens,
		users:      users,
		signer:     signer,
		idGen:      idGen,
		clock:      clock,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// アクセス・リフレッシュを1組発行して保存する
func (s *TokenService) IssueSession(ctx context.Context, user *model.User) (Session, error) {
	now := s.clock.Now()

	access, accessExp, err := s.mint(ctx, user, model.TokenKindAccess, now, s.accessTTL)
	if err != nil {
		return Session{}, err
	}
	refresh, refreshExp, err := s.mint(ctx, user, model.TokenKindRefresh, now, s.refreshTTL)
	if err != nil {
		return Session{}, err
	}

	return Session{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		User:             publicUser(user),
	}, nil
}

// リフレッシュトークンから新しいアクセストークンを作る。
// リフレッシュトークン自体はローテーションしない。
func (s *TokenService) Refresh(ctx context.Context, refreshValue string) (AccessToken, error) {
	record, err := s.Authenticate(ctx, refreshValue, model.TokenKindRefresh)
	if err != nil {
		return AccessToken{}, err
	}

	user, err := s.users.FindByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AccessToken{}, ErrInvalidCredential
		}
		return AccessToken{}, fmt.Errorf("find user: %w", err)
	}
	if !user.IsActive {
		return AccessToken{}, ErrInvalidCredential
	}

	value, exp, err := s.mint(ctx, user, model.TokenKindAccess, s.clock.Now(), s.accessTTL)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Value: value, ExpiresAt: exp}, nil
}

// 失効済み・未知のトークンはno-op
func (s *TokenService) Revoke(ctx context.Context, value string) error {
	if value == "" {
		return nil
	}
	err := s.tokens.RevokeByHash(ctx, HashToken(value), s.clock.Now())
	if err != nil && !errors.Is(err, repository.ErrTokenNotFound) {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// 保存済みレコードが存在し、未失効かつ期限内ならtrue
func (s *TokenService) Validate(ctx context.Context, value string) bool {
	_, err := s.Authenticate(ctx, value, "")
	return err == nil
}

// 署名を確認したうえで保存済みレコードを引き、有効なら返す。
// kindが空ならACCESS/REFRESHどちらでもよい。
func (s *TokenService) Authenticate(ctx context.Context, value string, kind model.TokenKind) (*model.Token, error) {
	claims, err := s.signer.Parse(value)
	if err != nil {
		return nil, ErrInvalidCredential
	}
	if kind != "" && claims.Kind != kind {
		return nil, ErrInvalidCredential
	}

	record, err := s.tokens.FindByHash(ctx, HashToken(value))
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	if record.UserID != claims.Subject || record.Kind != claims.Kind {
		return nil, ErrInvalidCredential
	}
	if !record.IsValid(s.clock.Now()) {
		return nil, ErrInvalidCredential
	}
	return record, nil
}

// 強制ログアウト。失効させた件数を返す
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	n, err := s.tokens.RevokeAllByUserID(ctx, userID, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("revoke all tokens: %w", err)
	}
	return n, nil
}

// before より前に期限切れになったレコードを削除する
func (s *TokenService) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.tokens.DeleteExpired(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge expired tokens: %w", err)
	}
	return n, nil
}

func (s *TokenService) mint(ctx context.Context, user *model.User, kind model.TokenKind, now time.Time, ttl time.Duration) (string, time.Time, error) {
	id := s.idGen.NewID()
	exp := now.Add(ttl)

	value, err := s.signer.Sign(user, kind, id, now, exp)
	if err != nil {
		return "", time.Time{}, err
	}

	record := &model.Token{
		ID:        id,
		UserID:    user.ID,
		Kind:      kind,
		TokenHash: HashToken(value),
		ExpiresAt: exp,
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return "", time.Time{}, fmt.Errorf("save %s token: %w", kind, err)
	}
	return value, exp, nil
}

// DBに保存するのはsha256だけ
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// 返すときは password hash を空にして漏洩防止
func publicUser(u *model.User) *model.User {
	safe := *u
	safe.PasswordHash = ""
	return &safe
}
