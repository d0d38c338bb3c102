package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"talentauth/internal/domain/model"
	"talentauth/internal/infra/mailer"
	"talentauth/internal/infra/ratelimit"
	"talentauth/internal/logging"
	"talentauth/internal/repository"
)

// OTPの有効期限（固定・延長なし）
const OtpTTL = 10 * time.Minute

const (
	otpMin = 100000
	otpMax = 999999
)

// 6桁のコードを作る約束
type CodeGenerator interface {
	Generate() (string, error)
}

// crypto/randで100000〜999999を一様に選ぶ
type RandomCodeGenerator struct{}

func (RandomCodeGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}

type OtpMailer interface {
	SendOtpEmail(ctx context.Context, to string, code string, purpose model.OtpPurpose) error
}

// OTPManager はワンタイムコードの発行と引き換えを行う。
// 引き換え対象は (user, purpose) の最新行だけ。古い行は消さずに残す。
type OTPManager struct {
	otps    repository.OtpRepository
	mailer  OtpMailer
	limiter ratelimit.AttemptLimiter
	codes   CodeGenerator
	idGen   IDGenerator
	clock   Clock
	logger  logging.Logger
}

func NewOTPManager(
	otps repository.OtpRepository,
	mailer OtpMailer,
	limiter ratelimit.AttemptLimiter,
	codes CodeGenerator,
	idGen IDGenerator,
	clock Clock,
	logger logging.Logger,
) *OTPManager {
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	return &OTPManager{
		otps:    otps,
		mailer:  mailer,
		limiter: limiter,
		codes:   codes,
		idGen:   idGen,
		clock:   clock,
		logger:  logger,
	}
}

// メールで送れた場合だけ新しい行を保存する。
// 送信失敗時は行を残さないので、手元にある直前のコードは有効なまま。
func (m *OTPManager) Issue(ctx context.Context, user *model.User, purpose model.OtpPurpose) (*model.OtpCode, error) {
	code, err := m.codes.Generate()
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	otp := &model.OtpCode{
		ID:        m.idGen.NewID(),
		UserID:    user.ID,
		Purpose:   purpose,
		ExpiresAt: now.Add(OtpTTL),
		CreatedAt: now,
	}
	otp.CodeHash = hashOtp(otp.ID, code)

	if err := m.mailer.SendOtpEmail(ctx, user.Email, code, purpose); err != nil {
		if errors.Is(err, mailer.ErrUnconfigured) {
			return nil, ErrUnconfigured
		}
		return nil, fmt.Errorf("deliver otp: %w", err)
	}

	if err := m.otps.Create(ctx, otp); err != nil {
		return nil, fmt.Errorf("save otp: %w", err)
	}
	return otp, nil
}

// 最新行と一致し、未使用かつ期限内なら使用済みにする。
// 失敗理由は呼び出し元に区別して返さない。
func (m *OTPManager) Redeem(ctx context.Context, userID string, purpose model.OtpPurpose, code string) error {
	key := string(purpose) + ":" + userID

	if err := m.limiter.Check(ctx, key); err != nil {
		if errors.Is(err, ratelimit.ErrLimited) {
			return ErrTooManyAttempts
		}
		// 制限ストア障害時は通す
		m.logger.Warn(ctx, "otp attempt limiter unavailable", "error", err)
	}

	otp, err := m.otps.FindLatest(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrOtpNotFound) {
			return m.fail(ctx, key)
		}
		return fmt.Errorf("find otp: %w", err)
	}

	now := m.clock.Now()
	if otp.Status(now) != model.OtpStatusIssued {
		return m.fail(ctx, key)
	}
	if subtle.ConstantTimeCompare([]byte(otp.CodeHash), []byte(hashOtp(otp.ID, code))) != 1 {
		return m.fail(ctx, key)
	}

	// used_at IS NULL の条件付き更新。同時に来ても1件しか勝たない
	if err := m.otps.MarkUsed(ctx, otp.ID, now); err != nil {
		if errors.Is(err, repository.ErrOtpNotFound) {
			return ErrInvalidOrExpiredOtp
		}
		return fmt.Errorf("mark otp used: %w", err)
	}

	if err := m.limiter.Reset(ctx, key); err != nil {
		m.logger.Warn(ctx, "reset otp attempts failed", "error", err)
	}
	return nil
}

func (m *OTPManager) fail(ctx context.Context, key string) error {
	if err := m.limiter.Fail(ctx, key); err != nil && !errors.Is(err, ratelimit.ErrLimited) {
		m.logger.Warn(ctx, "record otp failure failed", "error", err)
	}
	return ErrInvalidOrExpiredOtp
}

// コードは行IDと混ぜてハッシュ化して保存
func hashOtp(otpID, code string) string {
	sum := sha256.Sum256([]byte(otpID + ":" + code))
	return hex.EncodeToString(sum[:])
}
