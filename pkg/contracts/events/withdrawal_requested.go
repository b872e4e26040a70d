package events

type WithdrawalRequested struct {
	WithdrawalID string `json:"withdrawal_id"`
	UserID       string `json:"user_id"`
	Currency     string `json:"currency"`
	Amount       string `json:"amount"` // decimal em string, nunca float
	Destination  string `json:"destination"`
	TsUnixMs     int64  `json:"ts_unix_ms"`
}
