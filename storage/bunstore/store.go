// Package bunstore keeps client storage in a SQL table through bun. SQLite
// is the default target, any bun dialect works.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	authclient "github.com/goliatone/go-auth-client"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/migrate"
)

const (
	MigrationsTable     = "client_storage_migrations"
	MigrationLocksTable = "client_storage_migration_locks"
)

var (
	_ authclient.Storage     = (*Store)(nil)
	_ authclient.MultiSetter = (*Store)(nil)
)

// Entry is one stored key
type Entry struct {
	bun.BaseModel `bun:"table:client_storage,alias:cs"`
	Key           string    `bun:"storage_key,pk" json:"key"`
	Value         string    `bun:"storage_value,notnull" json:"value"`
	UpdatedAt     time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// Store is a bun backed authclient.Storage
type Store struct {
	db  bun.IDB
	now func() time.Time
}

// New wraps db. Call Migrate once before use.
func New(db bun.IDB) *Store {
	return &Store{
		db:  db,
		now: time.Now,
	}
}

// OpenSQLite opens dsn with the sqlite shim driver. Use "file::memory:?cache=shared"
// for a throwaway database.
func OpenSQLite(ctx context.Context, dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", dsn, err)
	}
	return db, nil
}

// Migrate applies the embedded migrations that have not run yet. It needs
// the store to wrap a *bun.DB, not a transaction.
func (s *Store) Migrate(ctx context.Context) error {
	db, ok := s.db.(*bun.DB)
	if !ok {
		return errors.New("bunstore: migrate requires a *bun.DB")
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(GetMigrationsFS()); err != nil {
		return fmt.Errorf("discover migrations: %w", err)
	}

	migrator := migrate.NewMigrator(db, migrations,
		migrate.WithTableName(MigrationsTable),
		migrate.WithLocksTableName(MigrationLocksTable),
	)
	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	if err := migrator.Lock(ctx); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}
	defer migrator.Unlock(ctx) //nolint:errcheck

	if _, err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate client_storage: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	entry := &Entry{}
	err := s.db.NewSelect().
		Model(entry).
		Where("storage_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return entry.Value, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.upsert(ctx, s.db, key, value)
}

func (s *Store) SetMany(ctx context.Context, values map[string]string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for k, v := range values {
			if err := s.upsert(ctx, tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes keys with a single statement
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.db.NewDelete().
		Model((*Entry)(nil)).
		Where("storage_key IN (?)", bun.In(keys)).
		Exec(ctx)
	return err
}

func (s *Store) upsert(ctx context.Context, db bun.IDB, key, value string) error {
	entry := &Entry{
		Key:       key,
		Value:     value,
		UpdatedAt: s.now().UTC(),
	}
	_, err := db.NewInsert().
		Model(entry).
		On("CONFLICT (storage_key) DO UPDATE").
		Set("storage_value = EXCLUDED.storage_value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}
