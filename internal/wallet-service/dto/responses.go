package dto

import (
	"github.com/shopspring/decimal"

	"github.com/radieske/casino-wallet-platform/internal/wallet-service/repo"
)

// CallbackResponse segue o contrato do agregador: HTTP 200 sempre, com
// balance no sucesso ou error_code/error_description em falha de negócio
type CallbackResponse struct {
	Balance          *decimal.Decimal `json:"balance,omitempty"`
	Currency         string           `json:"currency,omitempty"`
	TransactionID    string           `json:"transaction_id,omitempty"`
	ErrorCode        string           `json:"error_code,omitempty"`
	ErrorDescription string           `json:"error_description,omitempty"`
}

// IPNResponse confirma o recebimento do webhook do processador
type IPNResponse struct {
	OK bool `json:"ok"`
}

type CurrencyBalanceResponse struct {
	UserID    string          `json:"userId"`
	Currency  string          `json:"currency"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

type BalancesResponse struct {
	UserID       string          `json:"userId"`
	Balances     []repo.Balance  `json:"balances"`
	TotalUsd     decimal.Decimal `json:"totalUsd"`
	RateDegraded bool            `json:"rateDegraded,omitempty"`
}

type TransactionsResponse struct {
	UserID       string             `json:"userId"`
	Transactions []repo.LedgerEntry `json:"transactions"`
}

type WithdrawalResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	// token de aprovação; a entrega real ao usuário é papel do canal de
	// notificação, fora deste núcleo
	ApprovalToken string `json:"approvalToken,omitempty"`
}
