package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/casino-wallet-platform/internal/wallet-service/dto"
	"github.com/radieske/casino-wallet-platform/internal/wallet-service/engine"
	"github.com/radieske/casino-wallet-platform/internal/wallet-service/rates"
	"github.com/radieske/casino-wallet-platform/internal/wallet-service/repo"
	"github.com/radieske/casino-wallet-platform/internal/wallet-service/withdrawal"
)

// códigos de erro do contrato do agregador
const (
	codeInternal   = "INTERNAL_ERROR"
	codeUnknown    = "UNKNOWN_ACTION"
	codeNoFunds    = "INSUFFICIENT_FUNDS"
	codeBadAmount  = "INVALID_AMOUNT"
	codeBadRequest = "VALIDATION_ERROR"
)

const (
	ipnSignatureHdr = "x-nowpayments-sig"
	defaultTxLimit  = 50
)

// Settler processa callbacks do agregador e depósitos do processador
type Settler interface {
	Handle(ctx context.Context, req engine.Request) (engine.Result, error)
	CreditDeposit(ctx context.Context, userID, currency, paymentID string, amount decimal.Decimal, metadata json.RawMessage) (decimal.Decimal, error)
}

// Wallets define as leituras de carteira usadas pelo handler HTTP
type Wallets interface {
	Balances(ctx context.Context, userID string) ([]repo.Balance, error)
	CurrencyBalance(ctx context.Context, userID, currency string) (repo.Balance, error)
	Transactions(ctx context.Context, userID string, limit int) ([]repo.LedgerEntry, error)
}

// Withdrawals define o fluxo de saque exposto na API
type Withdrawals interface {
	Request(ctx context.Context, userID, currency string, amount, fee decimal.Decimal, destination string) (*repo.Withdrawal, string, error)
	Approve(ctx context.Context, userID, id, token string) error
	Cancel(ctx context.Context, userID, id string) error
}

// Rates converte saldos para USD no agregado da carteira
type Rates interface {
	UsdRates(ctx context.Context, symbols []string) (rates.RateSet, error)
}

// AggregatorAuth valida a assinatura HMAC dos callbacks
type AggregatorAuth interface {
	Verify(headers map[string]string, body map[string]any) error
}

// ProcessorAuth valida a assinatura do webhook IPN sobre os bytes crus
type ProcessorAuth interface {
	Verify(sig string, rawBody []byte) error
}

// Server expõe o callback do agregador, o webhook IPN e a API REST da carteira
type Server struct {
	log     *zap.Logger
	aggAuth AggregatorAuth
	ipnAuth ProcessorAuth
	settler Settler
	wallets Wallets
	wd      Withdrawals
	rates   Rates
}

func NewServer(log *zap.Logger, aggAuth AggregatorAuth, ipnAuth ProcessorAuth, settler Settler, wallets Wallets, wd Withdrawals, rt Rates) *Server {
	return &Server{log: log, aggAuth: aggAuth, ipnAuth: ipnAuth, settler: settler, wallets: wallets, wd: wd, rates: rt}
}

// Router retorna o mux HTTP com as rotas do serviço
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /callback", s.callback)
	mux.HandleFunc("POST /webhook/payments", s.paymentWebhook)
	mux.HandleFunc("GET /wallet/{userId}/balance", s.getBalance)
	mux.HandleFunc("GET /wallet/{userId}/transactions", s.getTransactions)
	mux.HandleFunc("POST /wallet/{userId}/withdrawals", s.requestWithdrawal)
	mux.HandleFunc("POST /wallet/{userId}/withdrawals/{id}/approve", s.approveWithdrawal)
	mux.HandleFunc("POST /wallet/{userId}/withdrawals/{id}/cancel", s.cancelWithdrawal)
	return mux
}

// callback recebe as notificações assinadas do agregador de jogos.
// Convenção do contrato: o status HTTP é sempre 200; falhas de negócio
// (inclusive de autenticação) vão no corpo como error_code, para evitar
// tempestade de retries do lado de lá
func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, dto.CallbackResponse{ErrorCode: codeInternal, ErrorDescription: "unreadable body"})
		return
	}

	// UseNumber preserva a forma literal dos números para a string canônica
	body := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, dto.CallbackResponse{ErrorCode: codeInternal, ErrorDescription: "bad json"})
		return
	}

	headers := map[string]string{}
	for _, h := range []string{"X-Merchant-Id", "X-Nonce", "X-Timestamp", "X-Sign"} {
		headers[h] = r.Header.Get(h)
	}
	if err := s.aggAuth.Verify(headers, body); err != nil {
		s.log.Warn("callback rejected", zap.Error(err))
		writeJSON(w, dto.CallbackResponse{ErrorCode: codeInternal, ErrorDescription: err.Error()})
		return
	}

	req := engine.Request{
		Action:           getStr(body, "action"),
		PlayerID:         getStr(body, "player_id"),
		Currency:         getStr(body, "currency"),
		TransactionID:    getStr(body, "transaction_id"),
		RefTransactionID: getStr(body, "bet_transaction_id"),
		Metadata:         raw,
	}
	if amtRaw, ok := body["amount"]; ok {
		amt, err := parseAmount(amtRaw)
		if err != nil {
			writeJSON(w, dto.CallbackResponse{ErrorCode: codeBadAmount, ErrorDescription: "malformed amount"})
			return
		}
		req.Amount = amt
	}

	res, err := s.settler.Handle(r.Context(), req)
	if err != nil {
		writeJSON(w, callbackError(err))
		return
	}
	writeJSON(w, dto.CallbackResponse{
		Balance:       &res.Balance,
		Currency:      res.Currency,
		TransactionID: res.TransactionID,
	})
}

// callbackError traduz o erro interno para o error_code do contrato.
// Erro de persistência também vira código distinguível: o status 200 do
// transporte nunca mascara a falha
func callbackError(err error) dto.CallbackResponse {
	switch {
	case errors.Is(err, engine.ErrUnknownAction):
		return dto.CallbackResponse{ErrorCode: codeUnknown, ErrorDescription: "unknown action"}
	case errors.Is(err, engine.ErrInvalidAmount):
		return dto.CallbackResponse{ErrorCode: codeBadAmount, ErrorDescription: "non-positive amount"}
	case errors.Is(err, engine.ErrInvalidRequest):
		return dto.CallbackResponse{ErrorCode: codeBadRequest, ErrorDescription: "missing required field"}
	case errors.Is(err, repo.ErrInsufficientFunds):
		return dto.CallbackResponse{ErrorCode: codeNoFunds, ErrorDescription: "insufficient balance"}
	default:
		return dto.CallbackResponse{ErrorCode: codeInternal, ErrorDescription: "internal error"}
	}
}

// paymentWebhook recebe o IPN do processador de pagamentos.
// payment_status confirmed/finished credita o depósito, idempotente por
// payment_id; demais status são só confirmados
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	if err := s.ipnAuth.Verify(r.Header.Get(ipnSignatureHdr), raw); err != nil {
		s.log.Warn("ipn rejected", zap.Error(err))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	body := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	status := getStr(body, "payment_status")
	if status != "confirmed" && status != "finished" {
		writeJSON(w, dto.IPNResponse{OK: true})
		return
	}

	amtRaw, ok := body["actually_paid"]
	if !ok {
		amtRaw = body["pay_amount"]
	}
	amount, err := parseAmount(amtRaw)
	if err != nil {
		http.Error(w, "malformed amount", http.StatusBadRequest)
		return
	}

	paymentID := getStr(body, "payment_id")
	if paymentID == "" {
		paymentID = getStr(body, "purchase_id")
	}

	_, err = s.settler.CreditDeposit(r.Context(),
		getStr(body, "order_id"),
		getStr(body, "pay_currency"),
		paymentID, amount, raw)
	if err != nil {
		s.log.Error("deposit credit failed", zap.String("paymentId", paymentID), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, dto.IPNResponse{OK: false})
		return
	}
	writeJSON(w, dto.IPNResponse{OK: true})
}

// getBalance retorna o saldo de uma moeda (?currency=) ou todas as moedas
// com o total agregado em USD
func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	if cur := r.URL.Query().Get("currency"); cur != "" {
		b, err := s.wallets.CurrencyBalance(r.Context(), userID, rates.Normalize(cur))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, dto.CurrencyBalanceResponse{UserID: userID, Currency: b.Currency, Available: b.Available, Locked: b.Locked})
		return
	}

	balances, err := s.wallets.Balances(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	symbols := make([]string, 0, len(balances))
	for _, b := range balances {
		symbols = append(symbols, b.Currency)
	}
	total := decimal.Zero
	degraded := false
	if len(symbols) > 0 {
		rs, err := s.rates.UsdRates(r.Context(), symbols)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		degraded = rs.Degraded
		for _, b := range balances {
			if rate, ok := rs.Rates[b.Currency]; ok {
				total = total.Add(b.Available.Mul(rate))
			}
		}
	}

	writeJSON(w, dto.BalancesResponse{UserID: userID, Balances: balances, TotalUsd: total, RateDegraded: degraded})
}

// getTransactions lista o extrato recente do usuário
func (s *Server) getTransactions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	limit := defaultTxLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	txs, err := s.wallets.Transactions(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, dto.TransactionsResponse{UserID: userID, Transactions: txs})
}

// requestWithdrawal cria o pedido de saque travando os fundos
func (s *Server) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req dto.WithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	wd, token, err := s.wd.Request(r.Context(), r.PathValue("userId"), req.Currency, req.Amount, req.Fee, req.Destination)
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrInsufficientFunds):
			http.Error(w, "insufficient funds", http.StatusConflict)
		case errors.Is(err, withdrawal.ErrInvalidRequest):
			http.Error(w, "invalid payload", http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, dto.WithdrawalResponse{ID: wd.ID, Status: wd.Status, ApprovalToken: token})
}

// approveWithdrawal confirma o saque com o token e enfileira a execução
func (s *Server) approveWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req dto.ApproveWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	err := s.wd.Approve(r.Context(), r.PathValue("userId"), r.PathValue("id"), req.Token)
	if err != nil {
		writeWithdrawalError(w, err)
		return
	}
	writeJSON(w, dto.WithdrawalResponse{ID: r.PathValue("id"), Status: repo.WithdrawalRequested})
}

// cancelWithdrawal aborta o pedido; só vale enquanto status=requested
func (s *Server) cancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	err := s.wd.Cancel(r.Context(), r.PathValue("userId"), r.PathValue("id"))
	if err != nil {
		writeWithdrawalError(w, err)
		return
	}
	writeJSON(w, dto.WithdrawalResponse{ID: r.PathValue("id"), Status: repo.WithdrawalCancelled})
}

func writeWithdrawalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, repo.ErrInvalidState):
		http.Error(w, "invalid state", http.StatusConflict)
	case errors.Is(err, withdrawal.ErrBadToken):
		http.Error(w, "invalid approval token", http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func getStr(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

func parseAmount(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		return decimal.NewFromString(t)
	default:
		return decimal.Zero, errors.New("unsupported amount type")
	}
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
