package ledgerxgo

import (
	"github.com/shopspring/decimal"
)

const (
	opDebit  = "debit"
	opCredit = "credit"
	opRecord = "record"
)

type statement struct {
	op   string
	sql  string
	args []any
}

// dialect holds the backend specific text of the transfer statements.
type dialect struct {
	updateBalanceSQL string
	recordSQL        string
	// money converts an amount to its bound form; nil binds it as is.
	money func(decimal.Decimal) any
}

func (d dialect) bindMoney(v decimal.Decimal) any {
	if d.money == nil {
		return v
	}
	return d.money(v)
}

// updateBalance adds delta to the stored balance of acctID. The new value is
// computed by the store from the current one within the same statement.
func (d dialect) updateBalance(op string, acctID int64, delta decimal.Decimal) statement {
	return statement{
		op:   op,
		sql:  d.updateBalanceSQL,
		args: []any{d.bindMoney(delta), acctID},
	}
}

func (d dialect) record(source, recipient int64, amount decimal.Decimal) statement {
	return statement{
		op:   opRecord,
		sql:  d.recordSQL,
		args: []any{source, recipient, d.bindMoney(amount)},
	}
}

// transfer returns the debit, credit and record statements in execution order.
// The insert is the only statement validating account ids and the amount sign,
// so it must always be issued.
func (d dialect) transfer(source, recipient int64, amount decimal.Decimal) []statement {
	return []statement{
		d.updateBalance(opDebit, source, amount.Neg()),
		d.updateBalance(opCredit, recipient, amount),
		d.record(source, recipient, amount),
	}
}
