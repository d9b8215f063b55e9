package ledgerxgo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-Id"

type accountsJSONResp struct {
	Accounts []Account `json:"accounts"`
}

type transactionsJSONResp struct {
	Transactions []Transaction `json:"transactions"`
}

type constraintJSONResp struct {
	Op         string `json:"op"`
	Constraint string `json:"constraint,omitempty"`
	Reason     string `json:"reason"`
}

// NewHTTPHandler exposes svc over JSON. node stamps every request with an id
// carried by the response and the request scoped logger.
func NewHTTPHandler(svc Service, node *snowflake.Node, timeout time.Duration, log *zerolog.Logger) http.Handler {
	hndlr := &httpHandler{
		Svc: svc,
		Log: log,
	}
	mux := chi.NewMux()
	mux.Use(middleware.Recoverer)
	mux.Use(requestLogger(node, log))
	if timeout > 0 {
		mux.Use(middleware.Timeout(timeout))
	}
	mux.NotFound(HTTPNotFound)
	mux.Route("/accounts", func(r chi.Router) {
		r.Get("/", hndlr.ListAccounts)
		r.Get("/{acctID:[0-9]+}/transactions", hndlr.AccountTransactions)
	})
	mux.Post("/transactions", hndlr.Transfer)

	return mux
}

func requestLogger(node *snowflake.Node, log *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := node.Generate().String()
			w.Header().Set(requestIDHeader, rid)
			rlog := log.With().Str("request_id", rid).Logger()
			next.ServeHTTP(w, r.WithContext(rlog.WithContext(r.Context())))
		})
	}
}

type httpHandler struct {
	Svc Service
	Log *zerolog.Logger
}

func (h *httpHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.Svc.ListAccounts(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", "list_accounts").Msg("error listing accounts")
		WriteHTTPError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, accountsJSONResp{Accounts: accts})
}

func (h *httpHandler) AccountTransactions(w http.ResponseWriter, r *http.Request) {
	pid := chi.URLParam(r, "acctID")
	acctID, err := strconv.ParseInt(pid, 10, 64)
	if err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", "account_transactions").Msg("error parsing account ID")
		WriteHTTPError(w, ErrBadRequest{map[string]string{"acctID": "invalid format"}})
		return
	}
	txns, err := h.Svc.AccountTransactions(r.Context(), AccountTransactionsReq{AcctID: acctID})
	if err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", "account_transactions").Msg("error listing transactions")
		WriteHTTPError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transactionsJSONResp{Transactions: txns})
}

func (h *httpHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", "transfer").Msg("error reading HTTP request")
		WriteHTTPError(w, ErrInternalServer)
		return
	}
	var req TransferReq
	if err = json.Unmarshal(buf, &req); err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", "transfer").Msg("error unmarshalling JSON")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}})
		return
	}
	txn, err := h.Svc.Transfer(r.Context(), req)
	if err != nil {
		zerolog.Ctx(r.Context()).Err(err).Str("method", "transfer").Msg("transfer rejected")
		WriteHTTPError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, txn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().
			Err(err).
			Msg("response encoding failed")
	}
}

func WriteHTTPError(w http.ResponseWriter, err error) {
	var ne error
	defer func() {
		if ne != nil {
			log.Error().
				Err(ne).
				Msg("error response encoding failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	errnf := &ErrNotFound{}
	errbr := &ErrBadRequest{}
	errcv := &ErrConstraintViolation{}
	switch {
	case errors.As(err, errnf):
		w.WriteHeader(http.StatusNotFound)
		ne = json.NewEncoder(w).Encode(errnf)
	case errors.As(err, errbr):
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(errbr)
	case errors.As(err, errcv):
		w.WriteHeader(http.StatusUnprocessableEntity)
		ne = json.NewEncoder(w).Encode(constraintJSONResp{
			Op:         errcv.Op,
			Constraint: errcv.Constraint,
			Reason:     errcv.Reason(),
		})
	case errors.Is(err, ErrSerializationFailure):
		w.WriteHeader(http.StatusConflict)
		ne = json.NewEncoder(w).Encode(map[string]string{"message": "conflicting transfer, retry"})
	case errors.Is(err, context.DeadlineExceeded):
		w.WriteHeader(http.StatusGatewayTimeout)
		ne = json.NewEncoder(w).Encode(map[string]string{"message": "request timed out"})
	case errors.Is(err, context.Canceled):
		w.WriteHeader(http.StatusServiceUnavailable)
		ne = json.NewEncoder(w).Encode(map[string]string{"message": "request cancelled"})
	case errors.Is(err, ErrConnection), errors.Is(err, ErrUnavailable):
		w.WriteHeader(http.StatusServiceUnavailable)
		ne = json.NewEncoder(w).Encode(map[string]string{"message": "service unavailable"})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		resp := map[string]string{
			"message": "server error",
		}
		ne = json.NewEncoder(w).Encode(resp)
	}
}

func HTTPNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	resp := map[string]string{
		"path": r.URL.Path,
	}
	json.NewEncoder(w).Encode(resp)
}
