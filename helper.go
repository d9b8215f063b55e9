package ledgerxgo

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

var seedAccountSQL = map[string]string{
	DriverPostgres: `
		INSERT INTO account (name, email, balance)
		VALUES ($1, $2, $3)
		RETURNING id;
	`,
	DriverSQLite: `
		INSERT INTO account (name, email, balance)
		VALUES (?, ?, ?)
		RETURNING id;
	`,
}

// LocalHelper provisions a ledger database: schema creation, teardown and
// sample accounts. It is the only path that creates accounts.
type LocalHelper struct {
	DB     *sql.DB
	Driver string
}

func NewLocalHelper(cfg *Config) (*LocalHelper, error) {
	driver, dsn := cfg.Database.Driver, cfg.Database.ConnectionString
	sqlDriver := "pgx"
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		sqlDriver = DriverSQLite
		dsn = SQLiteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, connectionError(err)
	}
	return &LocalHelper{
		DB:     db,
		Driver: driver,
	}, nil
}

// InitDB creates the ledger tables and returns a func dropping them.
func (lh *LocalHelper) InitDB(ctx context.Context) (func(), error) {
	ddl, err := SchemaSQL(lh.Driver)
	if err != nil {
		return nil, err
	}
	if _, err = lh.DB.ExecContext(ctx, ddl); err != nil {
		return nil, err
	}
	return lh.teardownDB(), nil
}

// SeedAccounts inserts n sample accounts holding balance each and returns
// their ids in insertion order.
func (lh *LocalHelper) SeedAccounts(ctx context.Context, n int, balance decimal.Decimal) ([]int64, error) {
	var stored any = balance
	if lh.Driver == DriverSQLite {
		units, err := toSQLiteUnits(balance)
		if err != nil {
			return nil, err
		}
		stored = units
	}
	tx, err := lh.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("user%02d", i)
		var id int64
		row := tx.QueryRowContext(ctx, seedAccountSQL[lh.Driver], name, name+"@example.com", stored)
		if err = row.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (lh *LocalHelper) Close() error {
	return lh.DB.Close()
}

func (lh *LocalHelper) teardownDB() func() {
	return func() {
		ddl, err := teardownSQL()
		if err != nil {
			fmt.Fprintf(os.Stderr, "DB cleanup read teardown sql: %s", err.Error())
			return
		}
		if _, err = lh.DB.Exec(ddl); err != nil {
			fmt.Fprintf(os.Stderr, "DB cleanup exec teardown sql: %s", err.Error())
			return
		}
	}
}
