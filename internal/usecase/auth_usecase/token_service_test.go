package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"talentauth/internal/domain/model"
	"talentauth/internal/infra/memory"
	repo "talentauth/internal/repository"
)

type TokenRepoMock struct{ mock.Mock }

func (m *TokenRepoMock) Create(ctx context.Context, token *model.Token) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *TokenRepoMock) FindByHash(ctx context.Context, tokenHash string) (*model.Token, error) {
	args := m.Called(ctx, tokenHash)
	t, _ := args.Get(0).(*model.Token)
	return t, args.Error(1)
}

func (m *TokenRepoMock) RevokeByHash(ctx context.Context, tokenHash string, revokedAt time.Time) error {
	args := m.Called(ctx, tokenHash, revokedAt)
	return args.Error(0)
}

func (m *TokenRepoMock) RevokeAllByUserID(ctx context.Context, userID string, revokedAt time.Time) (int64, error) {
	args := m.Called(ctx, userID, revokedAt)
	return args.Get(0).(int64), args.Error(1)
}

func (m *TokenRepoMock) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func TestTokenService_IssueSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.seedUser("a@example.com")

	s, err := f.tokens.IssueSession(ctx, user)
	require.NoError(t, err)

	assert.NotEqual(t, s.AccessToken, s.RefreshToken)
	assert.Empty(t, s.User.PasswordHash)
	assert.Equal(t, "hash", user.PasswordHash)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), s.AccessExpiresAt)
	assert.Equal(t, f.clock.Now().Add(14*24*time.Hour), s.RefreshExpiresAt)

	access, err := f.store.Tokens().FindByHash(ctx, HashToken(s.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, model.TokenKindAccess, access.Kind)
	assert.Equal(t, user.ID, access.UserID)

	refresh, err := f.store.Tokens().FindByHash(ctx, HashToken(s.RefreshToken))
	require.NoError(t, err)
	assert.Equal(t, model.TokenKindRefresh, refresh.Kind)

	assert.True(t, f.tokens.Validate(ctx, s.AccessToken))
	assert.True(t, f.tokens.Validate(ctx, s.RefreshToken))
}

func TestTokenService_ValidateUntilRevoked(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.seedUser("a@example.com")

	a, err := f.tokens.IssueSession(ctx, user)
	require.NoError(t, err)
	b, err := f.tokens.IssueSession(ctx, user)
	require.NoError(t, err)

	require.NoError(t, f.tokens.Revoke(ctx, a.AccessToken))
	assert.False(t, f.tokens.Validate(ctx, a.AccessToken))

	// 同じユーザーの別トークンには影響しない
	assert.True(t, f.tokens.Validate(ctx, b.AccessToken))
	assert.True(t, f.tokens.Validate(ctx, a.RefreshToken))

	// 失効は永続
	f.clock.Advance(time.Minute)
	assert.False(t, f.tokens.Validate(ctx, a.AccessToken))
}

func TestTokenService_RevokeIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.seedUser("a@example.com")
	s, err := f.tokens.IssueSession(ctx, user)
	require.NoError(t, err)

	assert.NoError(t, f.tokens.Revoke(ctx, s.AccessToken))
	assert.NoError(t, f.tokens.Revoke(ctx, s.AccessToken))
	assert.NoError(t, f.tokens.Revoke(ctx, "unknown-token"))
	assert.NoError(t, f.tokens.Revoke(ctx, ""))
}

func TestTokenService_RevokeStoreError(t *testing.T) {
	tokens := &TokenRepoMock{}
	clock := newFakeClock()
	svc := NewTokenService(tokens, memory.NewStore().Users(), NewJWTSigner(testSecret, clock), &seqIDGen{}, clock, time.Minute, time.Hour)
	boom := errors.New("db down")
	tokens.On("RevokeByHash", mock.Anything, HashToken("v"), clock.Now()).Return(boom)

	err := svc.Revoke(context.Background(), "v")
	assert.ErrorIs(t, err, boom)
}

func TestTokenService_ValidateFalseAfterExpiry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.seedUser("a@example.com")
	s, err := f.tokens.IssueSession(ctx, user)
	require.NoError(t, err)

	f.clock.Advance(15*time.Minute - time.Second)
	assert.True(t, f.tokens.Validate(ctx, s.AccessToken))

	f.clock.Advance(time.Second)
	assert.False(t, f.tokens.Validate(ctx, s.AccessToken))
	assert.True(t, f.tokens.Validate(ctx, s.RefreshToken))
}

func TestTokenService_Refresh(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.seedUser("a@example.com")
	s, err := f.tokens.IssueSession(ctx, user)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	assert.False(t, f.tokens.Validate(ctx, s.AccessToken))

	at, err := f.tokens.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.True(t, f.tokens.Validate(ctx, at.Value))
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), at.ExpiresAt)

	// ローテーションしないので再利用できる
	again, err := f.tokens.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, at.Value, again.Value)
}

func TestTokenService_RefreshRejects(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.seedUser("a@example.com")

	t.Run("access token presented", func(t *testing.T) {
		s, err := f.tokens.IssueSession(ctx, user)
		require.NoError(t, err)
		_, err = f.tokens.Refresh(ctx, s.AccessToken)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("revoked but signature valid", func(t *testing.T) {
		s, err := f.tokens.IssueSession(ctx, user)
		require.NoError(t, err)
		require.NoError(t, f.tokens.Revoke(ctx, s.RefreshToken))

		_, err = f.tokens.signer.Parse(s.RefreshToken)
		require.NoError(t, err)

		_, err = f.tokens.Refresh(ctx, s.RefreshToken)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("unknown record", func(t *testing.T) {
		value, err := f.tokens.signer.Sign(user, model.TokenKindRefresh, "never-saved", f.clock.Now(), f.clock.Now().Add(time.Hour))
		require.NoError(t, err)
		_, err = f.tokens.Refresh(ctx, value)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})

	t.Run("inactive user", func(t *testing.T) {
		u := f.seedUser("b@example.com")
		s, err := f.tokens.IssueSession(ctx, u)
		require.NoError(t, err)
		u.IsActive = false
		require.NoError(t, f.store.Users().Update(ctx, u))

		_, err = f.tokens.Refresh(ctx, s.RefreshToken)
		assert.ErrorIs(t, err, ErrInvalidCredential)
	})
}

// 署名上は有効でも、保存済みレコードが期限切れなら拒否する
func TestTokenService_RefreshDurableExpiryWins(t *testing.T) {
	clock := newFakeClock()
	signer := NewJWTSigner(testSecret, clock)
	tokens := &TokenRepoMock{}
	svc := NewTokenService(tokens, memory.NewStore().Users(), signer, &seqIDGen{}, clock, time.Minute, time.Hour)

	user := &model.User{ID: "u1", Email: "a@example.com", IsActive: true}
	value, err := signer.Sign(user, model.TokenKindRefresh, "t1", clock.Now(), clock.Now().Add(time.Hour))
	require.NoError(t, err)

	tokens.On("FindByHash", mock.Anything, HashToken(value)).Return(&model.Token{
		ID: "t1", UserID: "u1", Kind: model.TokenKindRefresh, ExpiresAt: clock.Now().Add(-time.Second),
	}, nil)

	_, err = svc.Refresh(context.Background(), value)
	assert.ErrorIs(t, err, ErrInvalidCredential)
	tokens.AssertExpectations(t)
}

func TestTokenService_AuthenticateKind(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.seedUser("a@example.com")
	s, err := f.tokens.IssueSession(ctx, user)
	require.NoError(t, err)

	rec, err := f.tokens.Authenticate(ctx, s.AccessToken, model.TokenKindAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, rec.UserID)

	_, err = f.tokens.Authenticate(ctx, s.RefreshToken, model.TokenKindAccess)
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestTokenService_AuthenticateStoreError(t *testing.T) {
	clock := newFakeClock()
	signer := NewJWTSigner(testSecret, clock)
	tokens := &TokenRepoMock{}
	svc := NewTokenService(tokens, memory.NewStore().Users(), signer, &seqIDGen{}, clock, time.Minute, time.Hour)

	value, err := signer.Sign(&model.User{ID: "u1"}, model.TokenKindAccess, "t1", clock.Now(), clock.Now().Add(time.Minute))
	require.NoError(t, err)
	boom := errors.New("db down")
	tokens.On("FindByHash", mock.Anything, mock.Anything).Return(nil, boom)

	_, err = svc.Authenticate(context.Background(), value, model.TokenKindAccess)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidCredential)
}

func TestTokenService_RevokeAllForUser(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.seedUser("a@example.com")
	b := f.seedUser("b@example.com")

	sa, err := f.tokens.IssueSession(ctx, a)
	require.NoError(t, err)
	sb, err := f.tokens.IssueSession(ctx, b)
	require.NoError(t, err)

	n, err := f.tokens.RevokeAllForUser(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	assert.False(t, f.tokens.Validate(ctx, sa.AccessToken))
	assert.False(t, f.tokens.Validate(ctx, sa.RefreshToken))
	assert.True(t, f.tokens.Validate(ctx, sb.AccessToken))
}

func TestTokenService_PurgeExpired(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	user := f.seedUser("a@example.com")
	s, err := f.tokens.IssueSession(ctx, user)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	n, err := f.tokens.PurgeExpired(ctx, f.clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.store.Tokens().FindByHash(ctx, HashToken(s.AccessToken))
	assert.ErrorIs(t, err, repo.ErrTokenNotFound)
	assert.True(t, f.tokens.Validate(ctx, s.RefreshToken))
}
