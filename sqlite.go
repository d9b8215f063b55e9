package ledgerxgo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/url"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// sqliteMoneyScale is the number of decimal places a SQLite ledger keeps.
const sqliteMoneyScale = 8

var (
	sqliteMaxUnits = decimal.NewFromInt(math.MaxInt64)

	sqliteSelectAccountsSQL = `
		SELECT id, COALESCE(name, ''), COALESCE(email, ''), balance
		FROM account;
	`

	sqliteSelectAcctTxnsSQL = `
		SELECT id, source_id, recipient_id, COALESCE(amount, 0)
		FROM transactions
		WHERE source_id = ? OR recipient_id = ?;
	`

	// money columns hold integer units of 10^-sqliteMoneyScale, so the
	// store adds and compares integers
	sqliteDialect = dialect{
		updateBalanceSQL: `
		UPDATE account
		SET balance = balance + ?
		WHERE id = ?;
	`,
		recordSQL: `
		INSERT INTO transactions (source_id, recipient_id, amount)
		VALUES (?, ?, ?);
	`,
		money: func(v decimal.Decimal) any {
			return v.Shift(sqliteMoneyScale).IntPart()
		},
	}

	sqliteDSNDefaults = map[string]string{
		"_foreign_keys": "1",
		"_txlock":       "immediate",
		"_busy_timeout": "5000",
	}
)

// SQLConn is satisfied by *sql.DB and *sql.Conn.
type SQLConn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type SQLiteEndpoint struct {
	db   *sql.DB
	conn SQLConn
	log  *zerolog.Logger
}

var (
	_ Repository = (*SQLiteEndpoint)(nil)
)

// NewSQLiteEndpoint opens dsn with foreign keys enforced and write
// transactions taking the database lock up front.
func NewSQLiteEndpoint(ctx context.Context, dsn string, maxConns int, log *zerolog.Logger) (*SQLiteEndpoint, error) {
	db, err := sql.Open(DriverSQLite, SQLiteDSN(dsn))
	if err != nil {
		return nil, err
	}
	// every connection to :memory: is a distinct database
	if strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "cache=shared") {
		maxConns = 1
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, translateSQLiteError("ping", err)
	}

	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &SQLiteEndpoint{
		db:  db,
		log: log,
	}, nil
}

// SQLiteDSN adds the connection parameters the ledger relies on unless dsn
// already sets them.
func SQLiteDSN(dsn string) string {
	path, rawQuery, _ := strings.Cut(dsn, "?")
	params, err := url.ParseQuery(rawQuery)
	if err != nil {
		params = url.Values{}
	}
	for k, v := range sqliteDSNDefaults {
		if params.Get(k) == "" {
			params.Set(k, v)
		}
	}
	return path + "?" + params.Encode()
}

// WithConn returns a store bound to conn. The caller owns conn; the returned
// store never closes it.
func (lite *SQLiteEndpoint) WithConn(conn SQLConn) *SQLiteEndpoint {
	bound := *lite
	bound.conn = conn
	return &bound
}

func (lite *SQLiteEndpoint) Close() {
	if lite.db == nil {
		return
	}
	if err := lite.db.Close(); err != nil {
		lite.log.Warn().Err(err).Msg("error closing sqlite database")
	}
}

func (lite *SQLiteEndpoint) GetAllAccounts(ctx context.Context) iter.Seq2[Account, error] {
	return sqliteQuery(ctx, lite, func(rows *sql.Rows) (Account, error) {
		var (
			a       Account
			balance int64
		)
		err := rows.Scan(&a.ID, &a.Name, &a.Email, &balance)
		a.Balance = fromSQLiteUnits(balance)
		return a, err
	}, sqliteSelectAccountsSQL)
}

func (lite *SQLiteEndpoint) GetAccountTransactions(ctx context.Context, acctID int64) iter.Seq2[Transaction, error] {
	return sqliteQuery(ctx, lite, func(rows *sql.Rows) (Transaction, error) {
		var (
			t      Transaction
			amount int64
		)
		err := rows.Scan(&t.ID, &t.SourceID, &t.RecipientID, &amount)
		t.Amount = fromSQLiteUnits(amount)
		return t, err
	}, sqliteSelectAcctTxnsSQL, acctID, acctID)
}

func (lite *SQLiteEndpoint) RecordPaymentTransaction(ctx context.Context, source, recipient int64, amount decimal.Decimal) (*Transaction, error) {
	if _, err := toSQLiteUnits(amount); err != nil {
		return nil, err
	}
	conn, release, err := lite.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, translateSQLiteError("begin", err)
	}

	txn := &Transaction{
		SourceID:    source,
		RecipientID: recipient,
		Amount:      amount,
	}
	for _, st := range sqliteDialect.transfer(source, recipient, amount) {
		res, err := tx.ExecContext(ctx, st.sql, st.args...)
		if err != nil {
			lite.rollback(tx, st.op)
			return nil, translateSQLiteError(st.op, err)
		}
		if st.op != opRecord {
			continue
		}
		if txn.ID, err = res.LastInsertId(); err != nil {
			lite.rollback(tx, st.op)
			return nil, translateSQLiteError(st.op, err)
		}
	}

	if err = tx.Commit(); err != nil {
		lite.rollback(tx, "commit")
		return nil, translateSQLiteError("commit", err)
	}
	return txn, nil
}

func (lite *SQLiteEndpoint) acquire(ctx context.Context) (SQLConn, func(), error) {
	if lite.conn != nil {
		return lite.conn, func() {}, nil
	}
	conn, err := lite.db.Conn(ctx)
	if err != nil {
		return nil, nil, translateSQLiteError("acquire", err)
	}
	release := func() {
		if err := conn.Close(); err != nil {
			lite.log.Warn().Err(err).Msg("error releasing sqlite connection")
		}
	}
	return conn, release, nil
}

// rollback is a no-op when database/sql already rolled tx back on ctx expiry.
func (lite *SQLiteEndpoint) rollback(tx *sql.Tx, op string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		lite.log.Err(err).Str("op", op).Msg("transfer rollback fail")
	}
}

// toSQLiteUnits converts v to stored units. Values with more decimal places
// than sqliteMoneyScale or outside the int64 range are rejected, never rounded.
func toSQLiteUnits(v decimal.Decimal) (int64, error) {
	units := v.Shift(sqliteMoneyScale)
	if !units.IsInteger() {
		return 0, ErrBadRequest{Fields: map[string]string{
			"amount": fmt.Sprintf("more than %d decimal places", sqliteMoneyScale),
		}}
	}
	if units.Abs().GreaterThan(sqliteMaxUnits) {
		return 0, ErrBadRequest{Fields: map[string]string{"amount": "out of range"}}
	}
	return units.IntPart(), nil
}

func fromSQLiteUnits(units int64) decimal.Decimal {
	return decimal.New(units, -sqliteMoneyScale)
}

func sqliteQuery[T any](ctx context.Context, lite *SQLiteEndpoint, scan func(*sql.Rows) (T, error), query string, args ...any) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		conn, release, err := lite.acquire(ctx)
		if err != nil {
			yield(zero, err)
			return
		}
		defer release()

		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			yield(zero, translateSQLiteError("query", err))
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
			yield(zero, translateSQLiteError("query", err))
		}
	}
}

func translateSQLiteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			cv := ErrConstraintViolation{Op: op, Constraint: sqliteConstraintName(se), Err: err}
			switch se.ExtendedCode {
			case sqlite3.ErrConstraintCheck:
				cv.Kind = ConstraintCheck
			case sqlite3.ErrConstraintForeignKey:
				cv.Kind = ConstraintForeignKey
			case sqlite3.ErrConstraintNotNull:
				cv.Kind = ConstraintNotNull
			default:
				return err
			}
			return cv
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return serializationError(err)
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			return connectionError(err)
		}
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrConnDone) || isConnectionLost(err) {
		return connectionError(err)
	}
	return err
}

// sqliteConstraintName extracts the name from messages like
// "CHECK constraint failed: account_balance_nonnegative".
func sqliteConstraintName(se sqlite3.Error) string {
	if _, name, ok := strings.Cut(se.Error(), "failed: "); ok {
		return name
	}
	return ""
}
