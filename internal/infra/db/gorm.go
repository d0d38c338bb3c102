package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect はpgxで*sql.DBを開き、その上に*gorm.DBを載せて返す。
// goose(マイグレーション)とgorm(リポジトリ)で同じコネクションプールを使う。
// statementTimeout > 0 なら各接続に statement_timeout を設定する。
func Connect(ctx context.Context, dsn string, statementTimeout time.Duration) (*gorm.DB, *sql.DB, error) {
	connCfg, err := ConnConfig(dsn, statementTimeout)
	if err != nil {
		return nil, nil, err
	}
	sqlDB := stdlib.OpenDB(*connCfg)

	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	gormDB, err := Open(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return gormDB, sqlDB, nil
}

// DSNを解釈し、サーバー側のクエリ期限を付ける
func ConnConfig(dsn string, statementTimeout time.Duration) (*pgx.ConnConfig, error) {
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if statementTimeout > 0 {
		if connCfg.RuntimeParams == nil {
			connCfg.RuntimeParams = map[string]string{}
		}
		connCfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(statementTimeout.Milliseconds(), 10)
	}
	return connCfg, nil
}

// Open は既存の*sql.DBをgormで包む（テストではsqlmockを渡す）。
func Open(sqlDB *sql.DB) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return gormDB, nil
}
