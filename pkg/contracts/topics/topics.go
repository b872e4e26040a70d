package topics

const (
	// Saques
	WithdrawalRequested = "withdrawal_requested"
	WithdrawalSettled   = "withdrawal_settled"

	// DLQs
	WithdrawalRequestedDLQ = "withdrawal_requested_dlq"
)
