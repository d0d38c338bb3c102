package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"talentauth/internal/domain/model"
	"talentauth/internal/infra/memory"
)

// =====================
// テスト用の部品
// =====================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDGen struct{ n int64 }

func (g *seqIDGen) NewID() string {
	return fmt.Sprintf("id-%d", atomic.AddInt64(&g.n, 1))
}

// 決まった順にコードを返す
type fixedCodes struct {
	mu    sync.Mutex
	codes []string
}

func (f *fixedCodes) Generate() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.codes[0]
	f.codes = f.codes[1:]
	return c, nil
}

type MailerMock struct{ mock.Mock }

func (m *MailerMock) SendOtpEmail(ctx context.Context, to string, code string, purpose model.OtpPurpose) error {
	args := m.Called(ctx, to, code, purpose)
	return args.Error(0)
}

func (m *MailerMock) SendWelcomeEmail(ctx context.Context, to string, name string) error {
	args := m.Called(ctx, to, name)
	return args.Error(0)
}

const testSecret = "test-secret-0123456789abcdef0123"

type fixture struct {
	store  *memory.Store
	clock  *fakeClock
	ids    *seqIDGen
	tokens *TokenService
}

func newFixture() *fixture {
	store := memory.NewStore()
	clock := newFakeClock()
	ids := &seqIDGen{}
	tokens := NewTokenService(
		store.Tokens(), store.Users(),
		NewJWTSigner(testSecret, clock),
		ids, clock,
		15*time.Minute, 14*24*time.Hour,
	)
	return &fixture{store: store, clock: clock, ids: ids, tokens: tokens}
}

func (f *fixture) seedUser(email string) *model.User {
	u := &model.User{ID: f.ids.NewID(), Email: email, Name: "Taro", PasswordHash: "hash", IsActive: true}
	if err := f.store.Users().Create(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

func (f *fixture) seedWallet(userID, address string) *model.Wallet {
	w := &model.Wallet{ID: f.ids.NewID(), UserID: userID, Address: model.NormalizeAddress(address), Network: "ethereum", Currency: "ETH", Provider: "local", IsDefault: true}
	if err := f.store.Wallets().Create(context.Background(), w); err != nil {
		panic(err)
	}
	return w
}
