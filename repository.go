package ledgerxgo

import (
	"context"
	"fmt"
	"iter"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks github.com/arhyth/ledgerxgo Repository

type Account struct {
	ID      int64           `json:"id" db:"id"`
	Name    string          `json:"name" db:"name"`
	Email   string          `json:"email" db:"email"`
	Balance decimal.Decimal `json:"balance" db:"balance"`
}

// Transaction is the immutable record a transfer leaves behind.
type Transaction struct {
	ID          int64           `json:"id" db:"id"`
	SourceID    int64           `json:"source_id" db:"source_id"`
	RecipientID int64           `json:"recipient_id" db:"recipient_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
}

// Repository is the ledger store. Reads are lazy: the backing connection is
// held only while the returned sequence is being iterated. Balances are never
// cached; every read goes to the store.
type Repository interface {
	GetAllAccounts(ctx context.Context) iter.Seq2[Account, error]
	GetAccountTransactions(ctx context.Context, acctID int64) iter.Seq2[Transaction, error]
	// RecordPaymentTransaction debits source, credits recipient and records the
	// transfer as one serializable unit of work. Amount sign and account
	// existence are validated only by the store's constraints.
	RecordPaymentTransaction(ctx context.Context, source, recipient int64, amount decimal.Decimal) (*Transaction, error)
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// NewRepository opens the backend selected by cfg. The returned func closes
// the underlying pool.
func NewRepository(ctx context.Context, cfg *Config, log *zerolog.Logger) (Repository, func(), error) {
	switch cfg.Database.Driver {
	case DriverPostgres:
		pg, err := NewPostgresEndpoint(ctx, cfg.Database.ConnectionString, cfg.Database.MaxConns, log)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case DriverSQLite:
		lite, err := NewSQLiteEndpoint(ctx, cfg.Database.ConnectionString, int(cfg.Database.MaxConns), log)
		if err != nil {
			return nil, nil, err
		}
		return lite, lite.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// collect drains seq, stopping at the first error.
func collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	out := []T{}
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
