package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"talentauth/internal/domain/model"
	"talentauth/internal/infra/mailer"
	"talentauth/internal/logging"
)

// 送られたコードを覚えておくメーラー
type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *captureMailer) SendOtpEmail(ctx context.Context, to string, code string, purpose model.OtpPurpose) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = map[string]string{}
	}
	c.codes[to] = code
	return nil
}

func (c *captureMailer) last(to string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[to]
}

func newWalletLogin(f *fixture, m OtpMailer) *WalletLogin {
	otp := NewOTPManager(f.store.Otps(), m, nil, RandomCodeGenerator{}, f.ids, f.clock, logging.NewNop())
	return NewWalletLogin(f.store.Wallets(), f.store.Users(), otp, f.tokens)
}

func TestWalletLogin_Scenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.seedUser("a@example.com")
	f.seedWallet(user.ID, "0xAbC0000000000000000000000000000000000001")
	m := &captureMailer{}
	wl := newWalletLogin(f, m)

	_, err := wl.Initiate(ctx, "0x9999999999999999999999999999999999999999")
	assert.ErrorIs(t, err, ErrNotFound)

	out, err := wl.Initiate(ctx, "0xABC0000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.True(t, out.RequiresOtp)
	assert.Equal(t, user.ID, out.UserID)

	code := m.last("a@example.com")
	require.Len(t, code, 6)

	session, err := wl.Verify(ctx, "0xabc0000000000000000000000000000000000001", code)
	require.NoError(t, err)
	assert.True(t, f.tokens.Validate(ctx, session.AccessToken))
	assert.Equal(t, user.ID, session.User.ID)
	require.Len(t, session.User.Wallets, 1)

	_, err = wl.Verify(ctx, "0xabc0000000000000000000000000000000000001", code)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOtp)
}

func TestWalletLogin_VerifyUnknownAddressLooksLikeBadOtp(t *testing.T) {
	f := newFixture()
	wl := newWalletLogin(f, &captureMailer{})

	_, err := wl.Verify(context.Background(), "0xdead", "123456")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOtp)

	_, err = wl.Verify(context.Background(), "  ", "123456")
	assert.ErrorIs(t, err, ErrInvalidOrExpiredOtp)
}

func TestWalletLogin_InactiveUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.seedUser("a@example.com")
	user.IsActive = false
	require.NoError(t, f.store.Users().Update(ctx, user))
	f.seedWallet(user.ID, "0x01")

	m := &MailerMock{}
	wl := newWalletLogin(f, m)

	_, err := wl.Initiate(ctx, "0x01")
	assert.ErrorIs(t, err, ErrNotFound)
	m.AssertNotCalled(t, "SendOtpEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWalletLogin_MailerFailureFailsInitiate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.seedUser("a@example.com")
	f.seedWallet(user.ID, "0x01")

	wl := newWalletLogin(f, mailer.Unconfigured{})
	_, err := wl.Initiate(ctx, "0x01")
	assert.ErrorIs(t, err, ErrUnconfigured)
}
