package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentauth/internal/domain/model"
	repo "talentauth/internal/repository"
)

var tokenColumns = []string{"id", "user_id", "kind", "token_hash", "expires_at", "revoked_at", "created_at", "updated_at"}

func TestTokenGorm_FindByHash_Found(t *testing.T) {
	gdb, mock := newGormWithMock(t)
	r := NewTokenGormRepository(gdb)

	exp := time.Now().Add(time.Hour).UTC()
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT \* FROM "tokens" WHERE token_hash = `).
		WillReturnRows(sqlmock.NewRows(tokenColumns).
			AddRow("t1", "u1", "ACCESS", "h1", exp, nil, now, now))

	got, err := r.FindByHash(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, model.TokenKindAccess, got.Kind)
	assert.Nil(t, got.RevokedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenGorm_FindByHash_NotFound(t *testing.T) {
	gdb, mock := newGormWithMock(t)
	r := NewTokenGormRepository(gdb)

	mock.ExpectQuery(`SELECT \* FROM "tokens" WHERE token_hash = `).
		WillReturnRows(sqlmock.NewRows(tokenColumns))

	_, err := r.FindByHash(context.Background(), "missing")
	assert.ErrorIs(t, err, repo.ErrTokenNotFound)
}

func TestTokenGorm_RevokeByHash_Success(t *testing.T) {
	gdb, mock := newGormWithMock(t)
	r := NewTokenGormRepository(gdb)

	mock.ExpectExec(`UPDATE "tokens" SET .*revoked_at.*WHERE.*token_hash = .*revoked_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.RevokeByHash(context.Background(), "h1", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// 0件更新 = 失効済み or 存在しない
func TestTokenGorm_RevokeByHash_NoRows(t *testing.T) {
	gdb, mock := newGormWithMock(t)
	r := NewTokenGormRepository(gdb)

	mock.ExpectExec(`UPDATE "tokens" SET .*revoked_at`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := r.RevokeByHash(context.Background(), "h1", time.Now())
	assert.ErrorIs(t, err, repo.ErrTokenNotFound)
}

func TestTokenGorm_RevokeByHash_DBError(t *testing.T) {
	gdb, mock := newGormWithMock(t)
	r := NewTokenGormRepository(gdb)

	mock.ExpectExec(`UPDATE "tokens" SET .*revoked_at`).
		WillReturnError(errors.New("db down"))

	err := r.RevokeByHash(context.Background(), "h1", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.NotErrorIs(t, err, repo.ErrTokenNotFound)
}

func TestTokenGorm_RevokeAllByUserID(t *testing.T) {
	gdb, mock := newGormWithMock(t)
	r := NewTokenGormRepository(gdb)

	mock.ExpectExec(`UPDATE "tokens" SET .*revoked_at.*WHERE.*user_id = .*revoked_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := r.RevokeAllByUserID(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTokenGorm_DeleteExpired(t *testing.T) {
	gdb, mock := newGormWithMock(t)
	r := NewTokenGormRepository(gdb)

	mock.ExpectExec(`DELETE FROM "tokens" WHERE expires_at < `).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := r.DeleteExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
