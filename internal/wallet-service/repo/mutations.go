package repo

import "github.com/shopspring/decimal"

// Mutações puras de saldo. O Postgres aplica estas funções dentro da
// transação; mantê-las separadas deixa a aritmética de liquidação testável
// sem banco.

// ApplyWager debita available e trava o mesmo valor em locked.
// Saldo insuficiente devolve os valores intactos com ErrInsufficientFunds
func ApplyWager(avail, locked, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if avail.LessThan(amount) {
		return avail, locked, ErrInsufficientFunds
	}
	return avail.Sub(amount), locked.Add(amount), nil
}

// ApplyPayout credita available incondicionalmente; locked não muda
func ApplyPayout(avail, locked, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	return avail.Add(amount), locked, nil
}

// ApplyRefund libera min(locked, amount) do locked e credita o valor
// integral em available. Vale para refund e reversal
func ApplyRefund(avail, locked, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	release := decimal.Min(locked, amount)
	return avail.Add(amount), locked.Sub(release), nil
}

// ApplyDeposit credita available; locked não muda
func ApplyDeposit(avail, locked, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	return avail.Add(amount), locked, nil
}
