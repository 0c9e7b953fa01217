// README: Common money value object used across modules.
package types

type Money struct {
	Amount   int64
	Currency string
}

func (m Money) IsZero() bool {
	return m.Amount == 0
}

// Scale returns m multiplied by n, keeping the currency.
func (m Money) Scale(n int64) Money {
	return Money{Amount: m.Amount * n, Currency: m.Currency}
}

// Sub returns m minus n, floored at zero.
func (m Money) Sub(n Money) Money {
	amt := m.Amount - n.Amount
	if amt < 0 {
		amt = 0
	}
	return Money{Amount: amt, Currency: m.Currency}
}

// Percent returns pct percent of m, truncated toward zero.
func (m Money) Percent(pct int64) Money {
	return Money{Amount: m.Amount * pct / 100, Currency: m.Currency}
}
