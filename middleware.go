package ledgerxgo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
)

type Middleware func(Service) Service

// Chain wraps svc so that mws[0] is the outermost layer.
func Chain(svc Service, mws ...Middleware) Service {
	for i := len(mws) - 1; i >= 0; i-- {
		svc = mws[i](svc)
	}
	return svc
}

//
// Logging middleware
//

type loggingMiddleware struct {
	next Service
	log  *zerolog.Logger
}

var (
	_ Service = (*loggingMiddleware)(nil)
)

func NewLoggingMiddleware(log *zerolog.Logger) Middleware {
	return func(next Service) Service {
		return &loggingMiddleware{
			next: next,
			log:  log,
		}
	}
}

func (l *loggingMiddleware) ListAccounts(ctx context.Context) (accts []Account, err error) {
	defer func(begin time.Time) {
		l.log.Err(err).
			Str("method", "list_accounts").
			Int("count", len(accts)).
			Dur("took", time.Since(begin)).
			Msg("ledger call")
	}(time.Now())
	return l.next.ListAccounts(ctx)
}

func (l *loggingMiddleware) AccountTransactions(ctx context.Context, req AccountTransactionsReq) (txns []Transaction, err error) {
	defer func(begin time.Time) {
		l.log.Err(err).
			Str("method", "account_transactions").
			Int64("acct_id", req.AcctID).
			Int("count", len(txns)).
			Dur("took", time.Since(begin)).
			Msg("ledger call")
	}(time.Now())
	return l.next.AccountTransactions(ctx, req)
}

func (l *loggingMiddleware) Transfer(ctx context.Context, req TransferReq) (txn *Transaction, err error) {
	defer func(begin time.Time) {
		l.log.Err(err).
			Str("method", "transfer").
			Int64("source_id", req.SourceID).
			Int64("recipient_id", req.RecipientID).
			Str("amount", req.Amount.String()).
			Dur("took", time.Since(begin)).
			Msg("ledger call")
	}(time.Now())
	return l.next.Transfer(ctx, req)
}

//
// Retry middleware
//

const maxRetryDelay = time.Second

type RetryPolicy struct {
	// Attempts is the total number of tries, including the first one.
	Attempts  int
	BaseDelay time.Duration
}

// retryMiddleware re-runs a whole transfer when the store aborted it with a
// serialization failure. Any other error is returned as is.
type retryMiddleware struct {
	next   Service
	policy RetryPolicy
}

var (
	_ Service = (*retryMiddleware)(nil)
)

func NewRetryMiddleware(policy RetryPolicy) Middleware {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return func(next Service) Service {
		return &retryMiddleware{
			next:   next,
			policy: policy,
		}
	}
}

func (r *retryMiddleware) ListAccounts(ctx context.Context) ([]Account, error) {
	return r.next.ListAccounts(ctx)
}

func (r *retryMiddleware) AccountTransactions(ctx context.Context, req AccountTransactionsReq) ([]Transaction, error) {
	return r.next.AccountTransactions(ctx, req)
}

func (r *retryMiddleware) Transfer(ctx context.Context, req TransferReq) (*Transaction, error) {
	for attempt := 0; ; attempt++ {
		txn, err := r.next.Transfer(ctx, req)
		if err == nil || !errors.Is(err, ErrSerializationFailure) || attempt+1 >= r.policy.Attempts {
			return txn, err
		}

		timer := time.NewTimer(retryDelay(r.policy.BaseDelay, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}
	}
}

// retryDelay is a full-jitter exponential backoff capped at maxRetryDelay.
func retryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := maxRetryDelay
	if attempt < 32 && base<<attempt < maxRetryDelay {
		delay = base << attempt
	}
	return rand.N(delay)
}

//
// Rate limiting middlewares
//

// limitMiddleware limits the number of in-flight requests to the service by using
// a weighted semaphore, i.e., x/sync/semaphore.Semaphore. Acquisition gives up
// when the request context is done.
type limitMiddleware struct {
	next   Service
	limits *ServiceLimits
}

var (
	_ Service = (*limitMiddleware)(nil)
)

type ServiceLimits struct {
	ListAccounts        *semaphore.Weighted
	AccountTransactions *semaphore.Weighted
	Transfer            *semaphore.Weighted
}

// NewServiceLimits allows n in-flight calls per operation.
func NewServiceLimits(n int64) *ServiceLimits {
	return &ServiceLimits{
		ListAccounts:        semaphore.NewWeighted(n),
		AccountTransactions: semaphore.NewWeighted(n),
		Transfer:            semaphore.NewWeighted(n),
	}
}

func NewLimitMiddleware(limits *ServiceLimits) Middleware {
	return func(next Service) Service {
		return &limitMiddleware{
			next:   next,
			limits: limits,
		}
	}
}

func (l *limitMiddleware) ListAccounts(ctx context.Context) ([]Account, error) {
	release, err := acquire(ctx, l.limits.ListAccounts)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.ListAccounts(ctx)
}

func (l *limitMiddleware) AccountTransactions(ctx context.Context, req AccountTransactionsReq) ([]Transaction, error) {
	release, err := acquire(ctx, l.limits.AccountTransactions)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.AccountTransactions(ctx, req)
}

func (l *limitMiddleware) Transfer(ctx context.Context, req TransferReq) (*Transaction, error) {
	release, err := acquire(ctx, l.limits.Transfer)
	if err != nil {
		return nil, err
	}
	defer release()
	return l.next.Transfer(ctx, req)
}

func acquire(ctx context.Context, sem *semaphore.Weighted) (func(), error) {
	if sem == nil {
		return func() {}, nil
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return func() { sem.Release(1) }, nil
}

//
// Circuit breaker middleware
//

type ServiceBreaker struct {
	ListAccounts        *gobreaker.TwoStepCircuitBreaker[[]Account]
	AccountTransactions *gobreaker.TwoStepCircuitBreaker[[]Transaction]
	Transfer            *gobreaker.TwoStepCircuitBreaker[*Transaction]
}

type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	OnStateChange       func(name string, from, to gobreaker.State)
}

func NewServiceBreaker(bs BreakerSettings) *ServiceBreaker {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: bs.MaxRequests,
			Interval:    bs.Interval,
			Timeout:     bs.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= bs.ConsecutiveFailures
			},
			OnStateChange: bs.OnStateChange,
		}
	}
	return &ServiceBreaker{
		ListAccounts:        gobreaker.NewTwoStepCircuitBreaker[[]Account](settings("list_accounts")),
		AccountTransactions: gobreaker.NewTwoStepCircuitBreaker[[]Transaction](settings("account_transactions")),
		Transfer:            gobreaker.NewTwoStepCircuitBreaker[*Transaction](settings("transfer")),
	}
}

// circuitBreakMiddleware is a middleware that implements the circuit breaker pattern.
// Only store faults trip it. Rejected or malformed transfers, serialization
// conflicts and expired requests are outcomes of a healthy store.
type circuitBreakMiddleware struct {
	next  Service
	brkrs *ServiceBreaker
}

var (
	_ Service = (*circuitBreakMiddleware)(nil)
)

func NewCircuitBreakMiddleware(brkrs *ServiceBreaker) Middleware {
	return func(next Service) Service {
		return &circuitBreakMiddleware{
			next:  next,
			brkrs: brkrs,
		}
	}
}

func (c *circuitBreakMiddleware) ListAccounts(ctx context.Context) ([]Account, error) {
	return breakerCall(c.brkrs.ListAccounts, func() ([]Account, error) {
		return c.next.ListAccounts(ctx)
	})
}

func (c *circuitBreakMiddleware) AccountTransactions(ctx context.Context, req AccountTransactionsReq) ([]Transaction, error) {
	return breakerCall(c.brkrs.AccountTransactions, func() ([]Transaction, error) {
		return c.next.AccountTransactions(ctx, req)
	})
}

func (c *circuitBreakMiddleware) Transfer(ctx context.Context, req TransferReq) (*Transaction, error) {
	return breakerCall(c.brkrs.Transfer, func() (*Transaction, error) {
		return c.next.Transfer(ctx, req)
	})
}

func breakerCall[T any](cb *gobreaker.TwoStepCircuitBreaker[T], call func() (T, error)) (T, error) {
	var zero T
	done, err := cb.Allow()
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	v, err := call()
	done(!isStoreFault(err))
	return v, err
}

func isStoreFault(err error) bool {
	if err == nil {
		return false
	}
	var (
		cv ErrConstraintViolation
		br ErrBadRequest
	)
	switch {
	case errors.As(err, &cv),
		errors.As(err, &br),
		errors.Is(err, ErrSerializationFailure),
		errors.Is(err, ErrUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
