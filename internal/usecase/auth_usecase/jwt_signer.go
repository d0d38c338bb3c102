package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"talentauth/internal/domain/model"
)

// JWTに載せる値。署名が通っても信用はしない（DBのレコードが正）。
type Claims struct {
	Email string          `json:"email"`
	Kind  model.TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

// HS256で署名・検証する
type JWTSigner struct {
	secret []byte
	clock  Clock
}

func NewJWTSigner(secret string, clock Clock) *JWTSigner {
	return &JWTSigner{secret: []byte(secret), clock: clock}
}

// jtiにはTokenレコードのIDを入れる
func (s *JWTSigner) Sign(user *model.User, kind model.TokenKind, tokenID string, issuedAt, expiresAt time.Time) (string, error) {
	claims := Claims{
		Email: user.Email,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// 署名・exp・kindの形だけを確認する。失敗理由は返さない。
func (s *JWTSigner) Parse(value string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredential
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidCredential
	}
	switch claims.Kind {
	case model.TokenKindAccess, model.TokenKindRefresh:
	default:
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
