package postgres

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MohGumaa/finance/internal/infra/persistence"
)

// Store exposes PostgreSQL-backed ledger repositories.
type Store struct {
	*persistence.Store

	Ledger *LedgerStore
}

// New constructs a PostgreSQL persistence store.
func New(pool *pgxpool.Pool, clock func() time.Time) *Store {
	return &Store{
		Store:  persistence.NewStore(pool),
		Ledger: NewLedgerStore(pool, clock),
	}
}
