package auth

import (
	"context"
	"database/sql"
	"log"

	"github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	Validate() error
	MustValidate()
	RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error
	Users() Users
	RunMigrations(ctx context.Context) error
}

type mngr struct {
	db    *bun.DB
	users Users
}

// NewRepositoryManager builds the repositories backed by db
func NewRepositoryManager(db *bun.DB, opts ...UsersOption) RepositoryManager {
	return &mngr{
		db:    db,
		users: NewUsersRepository(db, opts...),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized", errors.CategoryInternal)
	}

	if m.users == nil {
		return errors.New("repository users should be initialized", errors.CategoryInternal)
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

// gooseUp is a seam for testing migration runs.
var gooseUp = func(ctx context.Context, p *goose.Provider) error {
	_, err := p.Up(ctx)
	return err
}

// RunMigrations applies the embedded migrations using goose
func (m mngr) RunMigrations(ctx context.Context) error {
	gooseDialect, err := gooseDialectFor(m.db.Dialect().Name())
	if err != nil {
		return err
	}

	fsys, err := MigrationsDir()
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to open migrations")
	}

	provider, err := goose.NewProvider(gooseDialect, m.db.DB, fsys)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create migration provider")
	}

	if err := gooseUp(ctx, provider); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to run migrations")
	}

	return nil
}

func gooseDialectFor(name dialect.Name) (goose.Dialect, error) {
	switch name {
	case dialect.SQLite:
		return goose.DialectSQLite3, nil
	case dialect.PG:
		return goose.DialectPostgres, nil
	default:
		return "", errors.New("unsupported database dialect", errors.CategoryInternal).
			WithMetadata(map[string]any{"dialect": name.String()})
	}
}
