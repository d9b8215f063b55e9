package ledgerxgo_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/arhyth/ledgerxgo"
)

const unknownAcctID = int64(987654321)

// fixture is a freshly created, empty ledger database.
type fixture struct {
	repo   ledgerxgo.Repository
	helper *ledgerxgo.LocalHelper
}

func (f *fixture) seed(t *testing.T, balances ...int64) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(balances))
	for _, b := range balances {
		id, err := f.helper.SeedAccounts(context.Background(), 1, decimal.NewFromInt(b))
		require.NoError(t, err)
		ids = append(ids, id...)
	}
	return ids
}

// seedExact is seed for balances with a fractional part.
func (f *fixture) seedExact(t *testing.T, balances ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(balances))
	for _, b := range balances {
		id, err := f.helper.SeedAccounts(context.Background(), 1, decimal.RequireFromString(b))
		require.NoError(t, err)
		ids = append(ids, id...)
	}
	return ids
}

func (f *fixture) balances(t *testing.T) map[int64]decimal.Decimal {
	t.Helper()
	out := map[int64]decimal.Decimal{}
	for acct, err := range f.repo.GetAllAccounts(context.Background()) {
		require.NoError(t, err)
		out[acct.ID] = acct.Balance
	}
	return out
}

func (f *fixture) transactions(t *testing.T, acctID int64) []ledgerxgo.Transaction {
	t.Helper()
	out := []ledgerxgo.Transaction{}
	for txn, err := range f.repo.GetAccountTransactions(context.Background(), acctID) {
		require.NoError(t, err)
		out = append(out, txn)
	}
	return out
}

func total(bals map[int64]decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, b := range bals {
		sum = sum.Add(b)
	}
	return sum
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func assertUnchanged(t *testing.T, before, after map[int64]decimal.Decimal) {
	t.Helper()
	require.Len(t, after, len(before))
	for id, b := range before {
		assert.Truef(t, b.Equal(after[id]), "account %d: want %s, got %s", id, b, after[id])
	}
}

func requireConstraint(t *testing.T, err error, op string, kind ledgerxgo.ConstraintKind) ledgerxgo.ErrConstraintViolation {
	t.Helper()
	var cv ledgerxgo.ErrConstraintViolation
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, op, cv.Op)
	assert.Equal(t, kind, cv.Kind)
	return cv
}

// runLedgerSuite exercises a Repository backend. newFixture must return an
// empty ledger private to the calling test.
func runLedgerSuite(t *testing.T, newFixture func(t *testing.T) *fixture) {
	t.Run("transfer debits source, credits recipient and records it", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 200, 200)
		a, b := ids[0], ids[1]

		txn, err := f.repo.RecordPaymentTransaction(context.Background(), a, b, decimal.NewFromInt(50))
		reqrd.NoError(err)
		as.Positive(txn.ID)
		as.Equal(a, txn.SourceID)
		as.Equal(b, txn.RecipientID)
		assertDecimal(tt, "50", txn.Amount)

		bals := f.balances(tt)
		assertDecimal(tt, "150", bals[a])
		assertDecimal(tt, "250", bals[b])

		for _, id := range []int64{a, b} {
			txns := f.transactions(tt, id)
			reqrd.Len(txns, 1)
			as.Equal(txn.ID, txns[0].ID)
			as.Equal(a, txns[0].SourceID)
			as.Equal(b, txns[0].RecipientID)
			assertDecimal(tt, "50", txns[0].Amount)
		}
	})

	t.Run("fractional amounts stay exact", func(tt *testing.T) {
		reqrd := require.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 200, 200)

		_, err := f.repo.RecordPaymentTransaction(context.Background(), ids[0], ids[1], decimal.RequireFromString("12.25"))
		reqrd.NoError(err)

		bals := f.balances(tt)
		assertDecimal(tt, "187.75", bals[ids[0]])
		assertDecimal(tt, "212.25", bals[ids[1]])
	})

	t.Run("repeated tenths do not drift", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 200, 200)
		before := total(f.balances(tt))

		tenth := decimal.RequireFromString("0.1")
		for i := 0; i < 10; i++ {
			txn, err := f.repo.RecordPaymentTransaction(context.Background(), ids[0], ids[1], tenth)
			reqrd.NoError(err)
			assertDecimal(tt, "0.1", txn.Amount)
		}

		bals := f.balances(tt)
		assertDecimal(tt, "199", bals[ids[0]])
		assertDecimal(tt, "201", bals[ids[1]])
		as.True(before.Equal(total(bals)), "total changed from %s to %s", before, total(bals))
		for _, txn := range f.transactions(tt, ids[0]) {
			assertDecimal(tt, "0.1", txn.Amount)
		}
	})

	t.Run("fractional balance drains to exactly zero", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		f := newFixture(tt)
		ids := f.seedExact(tt, "0.3", "0")
		ctx := context.Background()

		_, err := f.repo.RecordPaymentTransaction(ctx, ids[0], ids[1], decimal.RequireFromString("0.1"))
		reqrd.NoError(err)
		_, err = f.repo.RecordPaymentTransaction(ctx, ids[0], ids[1], decimal.RequireFromString("0.2"))
		reqrd.NoError(err)

		bals := f.balances(tt)
		assertDecimal(tt, "0", bals[ids[0]])
		assertDecimal(tt, "0.3", bals[ids[1]])

		_, err = f.repo.RecordPaymentTransaction(ctx, ids[0], ids[1], decimal.RequireFromString("0.01"))
		requireConstraint(tt, err, "debit", ledgerxgo.ConstraintCheck)
		assertUnchanged(tt, bals, f.balances(tt))
		as.Len(f.transactions(tt, ids[0]), 2)
	})

	t.Run("insufficient balance rejects the whole transfer", func(tt *testing.T) {
		as := assert.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 30, 200)
		before := f.balances(tt)

		txn, err := f.repo.RecordPaymentTransaction(context.Background(), ids[0], ids[1], decimal.NewFromInt(50))
		as.Nil(txn)
		cv := requireConstraint(tt, err, "debit", ledgerxgo.ConstraintCheck)
		as.Equal("insufficient balance", cv.Reason())

		assertUnchanged(tt, before, f.balances(tt))
		as.Empty(f.transactions(tt, ids[0]))
		as.Empty(f.transactions(tt, ids[1]))
	})

	t.Run("negative amount is rejected by the record", func(tt *testing.T) {
		as := assert.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 200, 200)
		before := f.balances(tt)

		txn, err := f.repo.RecordPaymentTransaction(context.Background(), ids[0], ids[1], decimal.NewFromInt(-50))
		as.Nil(txn)
		cv := requireConstraint(tt, err, "record", ledgerxgo.ConstraintCheck)
		as.Equal("negative amount", cv.Reason())

		assertUnchanged(tt, before, f.balances(tt))
		as.Empty(f.transactions(tt, ids[0]))
	})

	t.Run("negative amount overdrawing the recipient is rejected by the credit", func(tt *testing.T) {
		as := assert.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 200, 30)
		before := f.balances(tt)

		_, err := f.repo.RecordPaymentTransaction(context.Background(), ids[0], ids[1], decimal.NewFromInt(-50))
		requireConstraint(tt, err, "credit", ledgerxgo.ConstraintCheck)

		assertUnchanged(tt, before, f.balances(tt))
		as.Empty(f.transactions(tt, ids[1]))
	})

	t.Run("unknown recipient is rejected", func(tt *testing.T) {
		as := assert.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 200)
		before := f.balances(tt)

		_, err := f.repo.RecordPaymentTransaction(context.Background(), ids[0], unknownAcctID, decimal.NewFromInt(50))
		cv := requireConstraint(tt, err, "record", ledgerxgo.ConstraintForeignKey)
		as.Equal("unknown account", cv.Reason())

		assertUnchanged(tt, before, f.balances(tt))
		as.Empty(f.transactions(tt, ids[0]))
	})

	t.Run("unknown source is rejected", func(tt *testing.T) {
		as := assert.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 200)
		before := f.balances(tt)

		_, err := f.repo.RecordPaymentTransaction(context.Background(), unknownAcctID, ids[0], decimal.NewFromInt(50))
		requireConstraint(tt, err, "record", ledgerxgo.ConstraintForeignKey)

		assertUnchanged(tt, before, f.balances(tt))
		as.Empty(f.transactions(tt, ids[0]))
	})

	t.Run("committed transfers conserve the total balance", func(tt *testing.T) {
		as := assert.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 200, 200, 200, 200)
		before := total(f.balances(tt))

		amounts := []int64{50, 120, 80, 200, 10, 75, 300}
		var committed int
		for i, amt := range amounts {
			src, rcp := ids[i%len(ids)], ids[(i+1)%len(ids)]
			_, err := f.repo.RecordPaymentTransaction(context.Background(), src, rcp, decimal.NewFromInt(amt))
			if err == nil {
				committed++
				continue
			}
			requireConstraint(tt, err, "debit", ledgerxgo.ConstraintCheck)
		}
		as.Positive(committed)

		after := f.balances(tt)
		as.True(before.Equal(total(after)), "total changed from %s to %s", before, total(after))
		for id, b := range after {
			as.Falsef(b.IsNegative(), "account %d went negative: %s", id, b)
		}
	})

	t.Run("unknown account has no transactions", func(tt *testing.T) {
		as := assert.New(tt)
		f := newFixture(tt)
		f.seed(tt, 200)

		as.Empty(f.transactions(tt, unknownAcctID))
	})

	t.Run("account transactions include both directions", func(tt *testing.T) {
		as := assert.New(tt)
		reqrd := require.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 200, 200, 200)
		ctx := context.Background()

		_, err := f.repo.RecordPaymentTransaction(ctx, ids[0], ids[1], decimal.NewFromInt(10))
		reqrd.NoError(err)
		_, err = f.repo.RecordPaymentTransaction(ctx, ids[1], ids[0], decimal.NewFromInt(20))
		reqrd.NoError(err)
		_, err = f.repo.RecordPaymentTransaction(ctx, ids[1], ids[2], decimal.NewFromInt(30))
		reqrd.NoError(err)

		as.Len(f.transactions(tt, ids[0]), 2)
		as.Len(f.transactions(tt, ids[1]), 3)
		as.Len(f.transactions(tt, ids[2]), 1)
	})

	t.Run("stopping iteration early releases the connection", func(tt *testing.T) {
		as := assert.New(tt)
		f := newFixture(tt)
		f.seed(tt, 200, 200, 200)

		for i := 0; i < 5; i++ {
			for _, err := range f.repo.GetAllAccounts(context.Background()) {
				as.NoError(err)
				break
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var n int
		for _, err := range f.repo.GetAllAccounts(ctx) {
			as.NoError(err)
			n++
		}
		as.Equal(3, n)
	})

	t.Run("cancelled context leaves no partial effect", func(tt *testing.T) {
		as := assert.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 200, 200)
		before := f.balances(tt)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		txn, err := f.repo.RecordPaymentTransaction(ctx, ids[0], ids[1], decimal.NewFromInt(50))
		as.Nil(txn)
		as.ErrorIs(err, context.Canceled)

		assertUnchanged(tt, before, f.balances(tt))
		as.Empty(f.transactions(tt, ids[0]))
	})

	t.Run("concurrent overdrafts of one account commit exactly once", func(tt *testing.T) {
		as := assert.New(tt)
		f := newFixture(tt)
		ids := f.seed(tt, 200, 200, 200)
		before := total(f.balances(tt))

		var (
			mu   sync.Mutex
			errs []error
		)
		g := new(errgroup.Group)
		for _, rcp := range ids[1:] {
			g.Go(func() error {
				_, err := f.repo.RecordPaymentTransaction(context.Background(), ids[0], rcp, decimal.NewFromInt(150))
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			})
		}
		require.NoError(tt, g.Wait())

		var committed int
		for _, err := range errs {
			if err == nil {
				committed++
				continue
			}
			var cv ledgerxgo.ErrConstraintViolation
			as.True(errors.As(err, &cv) || errors.Is(err, ledgerxgo.ErrSerializationFailure), "unexpected error: %v", err)
		}
		as.Equal(1, committed)

		bals := f.balances(tt)
		assertDecimal(tt, "50", bals[ids[0]])
		as.True(before.Equal(total(bals)))
		as.Len(f.transactions(tt, ids[0]), 1)
	})
}
