// Package memory is an in-process implementation of every repository.
// It backs STORE_DRIVER=memory and the handler tests; it is not durable.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"talentauth/internal/domain/model"
	repo "talentauth/internal/repository"
)

type Store struct {
	mu      sync.Mutex
	txMu    sync.Mutex
	users   map[string]model.User
	wallets map[string]model.Wallet
	// key: token hash
	tokens  map[string]model.Token
	// 挿入順
	otps    []model.OtpCode
	audit   []model.AuditLog
	auditID int64
}

func NewStore() *Store {
	return &Store{
		users:   map[string]model.User{},
		wallets: map[string]model.Wallet{},
		tokens:  map[string]model.Token{},
	}
}

func (s *Store) Users() repo.UserRepository         { return userRepo{s} }
func (s *Store) Wallets() repo.WalletRepository     { return walletRepo{s} }
func (s *Store) Tokens() repo.TokenRepository       { return tokenRepo{s} }
func (s *Store) Otps() repo.OtpRepository           { return otpRepo{s} }
func (s *Store) AuditLogs() repo.AuditLogRepository { return auditRepo{s} }
func (s *Store) TxManager() repo.TransactionManager { return txManager{s} }

// ---- users ----

type userRepo struct{ s *Store }

func (r userRepo) Create(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return repo.ErrDuplicate
		}
	}
	if _, ok := r.s.users[user.ID]; ok {
		return repo.ErrDuplicate
	}
	now := time.Now()
	user.Timestamp = model.Timestamp{CreatedAt: now, UpdatedAt: now}
	u := *user
	u.Wallets = nil
	r.s.users[u.ID] = u
	return nil
}

func (r userRepo) FindByID(ctx context.Context, userID string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return nil, repo.ErrUserNotFound
	}
	u.Wallets = r.s.walletsOfLocked(userID)
	return &u, nil
}

func (r userRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repo.ErrUserNotFound
}

func (r userRepo) Update(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; !ok {
		return repo.ErrUserNotFound
	}
	user.Timestamp.UpdatedAt = time.Now()
	u := *user
	u.Wallets = nil
	r.s.users[u.ID] = u
	return nil
}

// ---- wallets ----

type walletRepo struct{ s *Store }

func (s *Store) walletsOfLocked(userID string) []model.Wallet {
	var out []model.Wallet
	for _, w := range s.wallets {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.CreatedAt.Equal(out[j].Timestamp.CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.CreatedAt.Before(out[j].Timestamp.CreatedAt)
	})
	return out
}

func (r walletRepo) Create(ctx context.Context, wallet *model.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.wallets {
		if w.Address == wallet.Address {
			return repo.ErrDuplicate
		}
	}
	now := time.Now()
	wallet.Timestamp = model.Timestamp{CreatedAt: now, UpdatedAt: now}
	r.s.wallets[wallet.ID] = *wallet
	return nil
}

func (r walletRepo) FindByAddress(ctx context.Context, address string) (*model.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.wallets {
		if w.Address == address {
			return &w, nil
		}
	}
	return nil, repo.ErrWalletNotFound
}

func (r walletRepo) ListByUserID(ctx context.Context, userID string) ([]model.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.walletsOfLocked(userID), nil
}

func (r walletRepo) ClearDefault(ctx context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, w := range r.s.wallets {
		if w.UserID == userID && w.IsDefault {
			w.IsDefault = false
			r.s.wallets[id] = w
		}
	}
	return nil
}

func (r walletRepo) SetDefault(ctx context.Context, walletID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[walletID]
	if !ok {
		return repo.ErrWalletNotFound
	}
	w.IsDefault = true
	r.s.wallets[walletID] = w
	return nil
}

// ---- tokens ----

type tokenRepo struct{ s *Store }

func (r tokenRepo) Create(ctx context.Context, token *model.Token) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tokens[token.TokenHash]; ok {
		return repo.ErrDuplicate
	}
	now := time.Now()
	token.Timestamp = model.Timestamp{CreatedAt: now, UpdatedAt: now}
	r.s.tokens[token.TokenHash] = *token
	return nil
}

func (r tokenRepo) FindByHash(ctx context.Context, tokenHash string) (*model.Token, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[tokenHash]
	if !ok {
		return nil, repo.ErrTokenNotFound
	}
	return &t, nil
}

func (r tokenRepo) RevokeByHash(ctx context.Context, tokenHash string, revokedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[tokenHash]
	if !ok || t.RevokedAt != nil {
		return repo.ErrTokenNotFound
	}
	t.RevokedAt = &revokedAt
	r.s.tokens[tokenHash] = t
	return nil
}

func (r tokenRepo) RevokeAllByUserID(ctx context.Context, userID string, revokedAt time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for h, t := range r.s.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			at := revokedAt
			t.RevokedAt = &at
			r.s.tokens[h] = t
			n++
		}
	}
	return n, nil
}

func (r tokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for h, t := range r.s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.s.tokens, h)
			n++
		}
	}
	return n, nil
}

// ---- otp ----

type otpRepo struct{ s *Store }

func (r otpRepo) Create(ctx context.Context, otp *model.OtpCode) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.otps = append(r.s.otps, *otp)
	return nil
}

func (r otpRepo) FindLatest(ctx context.Context, userID string, purpose model.OtpPurpose) (*model.OtpCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *model.OtpCode
	for _, o := range r.s.otps {
		if o.UserID != userID || o.Purpose != purpose {
			continue
		}
		// 同時刻なら後から入れた方
		if latest == nil || !o.CreatedAt.Before(latest.CreatedAt) {
			o := o
			latest = &o
		}
	}
	if latest == nil {
		return nil, repo.ErrOtpNotFound
	}
	return latest, nil
}

func (r otpRepo) MarkUsed(ctx context.Context, otpID string, usedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.otps {
		if r.s.otps[i].ID != otpID {
			continue
		}
		if r.s.otps[i].UsedAt != nil {
			return repo.ErrOtpNotFound
		}
		at := usedAt
		r.s.otps[i].UsedAt = &at
		return nil
	}
	return repo.ErrOtpNotFound
}

// ---- audit ----

type auditRepo struct{ s *Store }

func (r auditRepo) Create(ctx context.Context, log model.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.auditID++
	log.ID = r.s.auditID
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	r.s.audit = append(r.s.audit, log)
	return nil
}

func (r auditRepo) List(ctx context.Context, filter repo.AuditLogFilter) ([]model.AuditLog, error) {
	filter = filter.Normalize()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []model.AuditLog
	//新しい順
	for i := len(r.s.audit) - 1; i >= 0; i-- {
		l := r.s.audit[i]
		if filter.ActorUserID != nil && l.ActorUserID != *filter.ActorUserID {
			continue
		}
		if filter.Action != nil && l.Action != *filter.Action {
			continue
		}
		if filter.ResourceType != nil && l.ResourceType != *filter.ResourceType {
			continue
		}
		if filter.ResourceID != nil && l.ResourceID != *filter.ResourceID {
			continue
		}
		if filter.CreatedFrom != nil && l.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && l.CreatedAt.After(*filter.CreatedTo) {
			continue
		}
		out = append(out, l)
	}
	if filter.Offset >= len(out) {
		return []model.AuditLog{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ---- tx ----

type txManager struct{ s *Store }

// undoLog は tx 内で最初に書いた時点の値を覚える。nil は「存在しなかった」。
type undoLog struct {
	s       *Store
	users   map[string]*model.User
	wallets map[string]*model.Wallet
}

func (u *undoLog) rememberUser(id string) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if _, seen := u.users[id]; seen {
		return
	}
	if prev, ok := u.s.users[id]; ok {
		u.users[id] = &prev
		return
	}
	u.users[id] = nil
}

func (u *undoLog) rememberWallets(match func(model.Wallet) bool, ids ...string) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	remember := func(id string) {
		if _, seen := u.wallets[id]; seen {
			return
		}
		if prev, ok := u.s.wallets[id]; ok {
			u.wallets[id] = &prev
			return
		}
		u.wallets[id] = nil
	}
	for _, id := range ids {
		remember(id)
	}
	if match != nil {
		for id, w := range u.s.wallets {
			if match(w) {
				remember(id)
			}
		}
	}
}

// tx で触ったキーだけ元に戻す。tx 外の書き込みはそのまま残る。
func (u *undoLog) rollback() {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for id, prev := range u.users {
		if prev == nil {
			delete(u.s.users, id)
			continue
		}
		u.s.users[id] = *prev
	}
	for id, prev := range u.wallets {
		if prev == nil {
			delete(u.s.wallets, id)
			continue
		}
		u.s.wallets[id] = *prev
	}
}

type txRepos struct{ undo *undoLog }

func (r txRepos) Users() repo.UserRepository     { return txUserRepo{userRepo{r.undo.s}, r.undo} }
func (r txRepos) Wallets() repo.WalletRepository { return txWalletRepo{walletRepo{r.undo.s}, r.undo} }

type txUserRepo struct {
	userRepo
	undo *undoLog
}

func (r txUserRepo) Create(ctx context.Context, user *model.User) error {
	r.undo.rememberUser(user.ID)
	return r.userRepo.Create(ctx, user)
}

func (r txUserRepo) Update(ctx context.Context, user *model.User) error {
	r.undo.rememberUser(user.ID)
	return r.userRepo.Update(ctx, user)
}

type txWalletRepo struct {
	walletRepo
	undo *undoLog
}

func (r txWalletRepo) Create(ctx context.Context, wallet *model.Wallet) error {
	r.undo.rememberWallets(nil, wallet.ID)
	return r.walletRepo.Create(ctx, wallet)
}

func (r txWalletRepo) ClearDefault(ctx context.Context, userID string) error {
	r.undo.rememberWallets(func(w model.Wallet) bool { return w.UserID == userID })
	return r.walletRepo.ClearDefault(ctx, userID)
}

func (r txWalletRepo) SetDefault(ctx context.Context, walletID string) error {
	r.undo.rememberWallets(nil, walletID)
	return r.walletRepo.SetDefault(ctx, walletID)
}

// tx 同士は直列。エラー時は undoLog で tx の書き込みだけ取り消す。
func (m txManager) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	m.s.txMu.Lock()
	defer m.s.txMu.Unlock()

	undo := &undoLog{s: m.s, users: map[string]*model.User{}, wallets: map[string]*model.Wallet{}}
	if err := fn(txRepos{undo}); err != nil {
		undo.rollback()
		return err
	}
	return nil
}
