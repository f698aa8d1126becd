package repository

import (
	"context"

	"github.com/duna/traceability/common/db"
)

// Store bundles the entity repositories behind one handle and carries
// transactions through the context: InTx opens a transaction, and every
// repository call made under the returned context joins it.
type Store struct {
	*FlowRepository
	*RunRepository
	*LotRepository
	*QCRepository

	db *db.DB
}

// NewStore creates a store over the shared connection pool
func NewStore(database *db.DB) *Store {
	return &Store{
		FlowRepository: NewFlowRepository(database),
		RunRepository:  NewRunRepository(database),
		LotRepository:  NewLotRepository(database),
		QCRepository:   NewQCRepository(database),
		db:             database,
	}
}

// InTx runs fn inside one database transaction
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.InTx(ctx, fn)
}
