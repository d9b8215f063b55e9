package ledgerxgo

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	pgSelectAccountsSQL = `
		SELECT id, COALESCE(name, '') AS name, COALESCE(email, '') AS email, balance
		FROM account;
	`

	pgSelectAcctTxnsSQL = `
		SELECT id, source_id, recipient_id, COALESCE(amount, 0) AS amount
		FROM transactions
		WHERE source_id = $1 OR recipient_id = $1;
	`

	pgDialect = dialect{
		updateBalanceSQL: `
		UPDATE account
		SET balance = balance + $1
		WHERE id = $2;
	`,
		recordSQL: `
		INSERT INTO transactions (source_id, recipient_id, amount)
		VALUES ($1, $2, $3)
		RETURNING id;
	`,
	}
)

const (
	pgNotNullViolation     = "23502"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	rollbackTimeout        = 5 * time.Second
)

// PgConn is satisfied by *pgxpool.Conn, *pgxpool.Pool and *pgx.Conn.
type PgConn interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PostgresEndpoint struct {
	pool *pgxpool.Pool
	conn PgConn
	log  *zerolog.Logger
}

var (
	_ Repository = (*PostgresEndpoint)(nil)
)

func NewPostgresEndpoint(ctx context.Context, connStr string, maxConns int32, log *zerolog.Logger) (*PostgresEndpoint, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, translatePgError("ping", err)
	}

	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	endpt := &PostgresEndpoint{
		pool: pool,
		log:  log,
	}
	return endpt, nil
}

// WithConn returns a store bound to conn. The caller owns conn; the returned
// store never releases it.
func (pg *PostgresEndpoint) WithConn(conn PgConn) *PostgresEndpoint {
	bound := *pg
	bound.conn = conn
	return &bound
}

func (pg *PostgresEndpoint) Close() {
	if pg.pool != nil {
		pg.pool.Close()
	}
}

func (pg *PostgresEndpoint) GetAllAccounts(ctx context.Context) iter.Seq2[Account, error] {
	return pgQuery(ctx, pg, pgx.RowToStructByName[Account], pgSelectAccountsSQL)
}

func (pg *PostgresEndpoint) GetAccountTransactions(ctx context.Context, acctID int64) iter.Seq2[Transaction, error] {
	return pgQuery(ctx, pg, pgx.RowToStructByName[Transaction], pgSelectAcctTxnsSQL, acctID)
}

func (pg *PostgresEndpoint) RecordPaymentTransaction(ctx context.Context, source, recipient int64, amount decimal.Decimal) (*Transaction, error) {
	conn, release, err := pg.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, translatePgError("begin", err)
	}

	stmts := pgDialect.transfer(source, recipient, amount)
	batch := &pgx.Batch{}
	for _, st := range stmts {
		batch.Queue(st.sql, st.args...)
	}
	btresults := tx.SendBatch(ctx, batch)
	txn := &Transaction{
		SourceID:    source,
		RecipientID: recipient,
		Amount:      amount,
	}
	for _, st := range stmts {
		if st.op == opRecord {
			err = btresults.QueryRow().Scan(&txn.ID)
		} else {
			_, err = btresults.Exec()
		}
		if err != nil {
			btresults.Close()
			pg.rollback(ctx, tx, st.op)
			return nil, translatePgError(st.op, err)
		}
	}
	if err = btresults.Close(); err != nil {
		pg.rollback(ctx, tx, opRecord)
		return nil, translatePgError(opRecord, err)
	}

	if err = tx.Commit(ctx); err != nil {
		pg.rollback(ctx, tx, "commit")
		return nil, translatePgError("commit", err)
	}
	return txn, nil
}

func (pg *PostgresEndpoint) acquire(ctx context.Context) (PgConn, func(), error) {
	if pg.conn != nil {
		return pg.conn, func() {}, nil
	}
	conn, err := pg.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, translatePgError("acquire", err)
	}
	return conn, conn.Release, nil
}

// rollback runs even when ctx is already done so an expired transfer leaves
// nothing behind.
func (pg *PostgresEndpoint) rollback(ctx context.Context, tx pgx.Tx, op string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		pg.log.Err(err).Str("op", op).Msg("transfer rollback fail")
	}
}

func pgQuery[T any](ctx context.Context, pg *PostgresEndpoint, scan pgx.RowToFunc[T], sql string, args ...any) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		conn, release, err := pg.acquire(ctx)
		if err != nil {
			yield(zero, err)
			return
		}
		defer release()

		rows, err := conn.Query(ctx, sql, args...)
		if err != nil {
			yield(zero, translatePgError("query", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			v, err := scan(rows)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err = rows.Err(); err != nil {
			yield(zero, translatePgError("query", err))
		}
	}
}

func translatePgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCheckViolation:
			return ErrConstraintViolation{Op: op, Kind: ConstraintCheck, Constraint: pgErr.ConstraintName, Err: err}
		case pgForeignKeyViolation:
			return ErrConstraintViolation{Op: op, Kind: ConstraintForeignKey, Constraint: pgErr.ConstraintName, Err: err}
		case pgNotNullViolation:
			return ErrConstraintViolation{Op: op, Kind: ConstraintNotNull, Constraint: pgErr.ColumnName, Err: err}
		case pgSerializationFailure, pgDeadlockDetected:
			return serializationError(err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || isConnectionLost(err) {
		return connectionError(err)
	}
	return err
}
