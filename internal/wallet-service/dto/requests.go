package dto

import "github.com/shopspring/decimal"

// WithdrawalRequest é o pedido de saque do usuário
type WithdrawalRequest struct {
	Currency    string          `json:"currency"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	Destination string          `json:"destination"`
}

// ApproveWithdrawalRequest confirma o saque com o token entregue fora de banda
type ApproveWithdrawalRequest struct {
	Token string `json:"token"`
}
