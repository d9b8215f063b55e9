package ledgerxgo

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks github.com/arhyth/ledgerxgo Service

type AccountTransactionsReq struct {
	AcctID int64
}

type TransferReq struct {
	SourceID    int64           `json:"source_id"`
	RecipientID int64           `json:"recipient_id"`
	Amount      decimal.Decimal `json:"amount"`
}

type Service interface {
	ListAccounts(ctx context.Context) ([]Account, error)
	AccountTransactions(ctx context.Context, req AccountTransactionsReq) ([]Transaction, error)
	Transfer(ctx context.Context, req TransferReq) (*Transaction, error)
}

var (
	_ Service = (*serviceImpl)(nil)
)

func NewService(repo Repository, log *zerolog.Logger) *serviceImpl {
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &serviceImpl{
		repo: repo,
		log:  log,
	}
}

type serviceImpl struct {
	repo Repository
	log  *zerolog.Logger
}

func (s *serviceImpl) ListAccounts(ctx context.Context) ([]Account, error) {
	return collect(s.repo.GetAllAccounts(ctx))
}

func (s *serviceImpl) AccountTransactions(ctx context.Context, req AccountTransactionsReq) ([]Transaction, error) {
	return collect(s.repo.GetAccountTransactions(ctx, req.AcctID))
}

func (s *serviceImpl) Transfer(ctx context.Context, req TransferReq) (*Transaction, error) {
	txn, err := s.repo.RecordPaymentTransaction(ctx, req.SourceID, req.RecipientID, req.Amount)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Int64("txn_id", txn.ID).
		Int64("source_id", txn.SourceID).
		Int64("recipient_id", txn.RecipientID).
		Str("amount", txn.Amount.String()).
		Msg("transfer recorded")
	return txn, nil
}
