package pricing

import "github.com/shopspring/decimal"

// Policy is a multiplicative markup applied to a provider base cost.
type Policy struct {
	Margin decimal.Decimal // resale margin factor, e.g. 1.10
	Fee    decimal.Decimal // payment processing fee factor, e.g. 1.05
}

// DefaultPolicy is +10% margin and +5% processing fee.
func DefaultPolicy() Policy {
	return Policy{
		Margin: decimal.RequireFromString("1.10"),
		Fee:    decimal.RequireFromString("1.05"),
	}
}

// Apply composes both factors over base and rounds half away from zero to two places.
func (p Policy) Apply(base decimal.Decimal) decimal.Decimal {
	return base.Mul(p.Margin).Mul(p.Fee).Round(2)
}
