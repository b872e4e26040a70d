package events

import "time"

// Evento emitido pelo withdrawal-worker após executar o payout.
type WithdrawalSettled struct {
	WithdrawalID string    `json:"withdrawalId"`
	UserID       string    `json:"userId"`
	Status       string    `json:"status"` // "completed" | "failed"
	Reason       string    `json:"reason,omitempty"`
	ProviderRef  string    `json:"providerRef,omitempty"`
	Ts           time.Time `json:"ts"`
}
