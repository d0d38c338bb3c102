// Package wallet provisions the wallets a new user starts with.
package wallet

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/sha3"

	"talentauth/internal/domain/model"
)

const ProviderLocal = "local"

// 登録時に作るウォレットの種類。先頭がdefault。
type Spec struct {
	Network  string
	Currency string
}

var DefaultSpecs = []Spec{
	{Network: "ethereum", Currency: "ETH"},
	{Network: "polygon", Currency: "USDC"},
}

// LocalProvisioner はランダムなシークレットからアドレスを導出する。
// 外部のカストディ事業者を使わない開発・テスト用。
type LocalProvisioner struct {
	specs []Spec
	rand  io.Reader
}

func NewLocalProvisioner(specs ...Spec) *LocalProvisioner {
	if len(specs) == 0 {
		specs = DefaultSpecs
	}
	return &LocalProvisioner{specs: specs, rand: rand.Reader}
}

// Provision はシークレットを生成し、ユーザーのウォレットを組み立てる（保存はしない）。
// 戻り値のリカバリフレーズは呼び出し元に一度だけ返す。
func (p *LocalProvisioner) Provision(ctx context.Context, userID string) ([]model.Wallet, string, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(p.rand, secret); err != nil {
		return nil, "", fmt.Errorf("generate wallet secret: %w", err)
	}
	phrase := encodePhrase(secret)
	fingerprint := Fingerprint(phrase)

	wallets := make([]model.Wallet, 0, len(p.specs))
	for i, s := range p.specs {
		wallets = append(wallets, model.Wallet{
			UserID:            userID,
			Address:           deriveAddress(secret, i),
			Network:           s.Network,
			Currency:          s.Currency,
			Provider:          ProviderLocal,
			IsDefault:         i == 0,
			SecretFingerprint: fingerprint,
		})
	}
	return wallets, phrase, nil
}

// Fingerprint はシークレットの照合用ハッシュ（平文は保存しない）
func Fingerprint(phrase string) string {
	sum := sha256.Sum256([]byte(phrase))
	return hex.EncodeToString(sum[:])
}

// keccak256(secret || index) の末尾20バイト
func deriveAddress(secret []byte, index int) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(secret)
	h.Write([]byte{byte(index)})
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

// 4文字ずつ区切ったhex
func encodePhrase(secret []byte) string {
	s := hex.EncodeToString(secret)
	groups := make([]string, 0, len(s)/4)
	for i := 0; i < len(s); i += 4 {
		groups = append(groups, s[i:i+4])
	}
	return strings.Join(groups, "-")
}
