package invoicing

import (
	"github.com/shopspring/decimal"

	"github.com/fakturace/fakturace/internal/money"
)

// Totals are the invoice header amounts derived from its items.
type Totals struct {
	Subtotal  decimal.Decimal
	VATAmount decimal.Decimal
	Total     decimal.Decimal
}

// LineTotal returns quantity times unit price rounded to cents.
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return money.Round(quantity.Mul(unitPrice))
}

// ComputeTotals sums item totals and per-item VAT. VAT is rounded per line,
// and reverse-charge invoices carry no VAT.
func ComputeTotals(items []Item, reverseCharge bool) Totals {
	subtotal := decimal.Zero
	vat := decimal.Zero
	for _, it := range items {
		line := LineTotal(it.Quantity, it.UnitPrice)
		subtotal = subtotal.Add(line)
		if !reverseCharge {
			vat = vat.Add(money.VAT(line, it.VATRate))
		}
	}
	return Totals{
		Subtotal:  subtotal,
		VATAmount: vat,
		Total:     subtotal.Add(vat),
	}
}

func itemVATRate(rate *decimal.Decimal, reverseCharge bool) decimal.Decimal {
	if reverseCharge {
		return decimal.Zero
	}
	if rate == nil || rate.IsNegative() {
		return money.DefaultVATRate
	}
	return *rate
}
