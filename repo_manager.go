package access

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Hospitals() Hospitals
	Users() Users
}

type mngr struct {
	db        *bun.DB
	hospitals Hospitals
	users     Users
}

// NewRepositoryManager wires the hospitals and users repositories over the
// same database. Extra user options are applied after the shared hospitals
// repository is set.
func NewRepositoryManager(db *bun.DB, opts ...UsersOption) RepositoryManager {
	hospitals := NewHospitalsRepository(db)
	userOpts := append([]UsersOption{WithUsersHospitals(hospitals)}, opts...)
	return &mngr{
		db:        db,
		hospitals: hospitals,
		users:     NewUsersRepository(db, userOpts...),
	}
}

func (m mngr) Validate() error {
	if m.hospitals == nil {
		return errors.New("repository hospitals should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
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

func (m mngr) Hospitals() Hospitals {
	return m.hospitals
}

func (m mngr) Users() Users {
	return m.users
}
