package client

import "github.com/shopspring/decimal"

// PayPal amounts travel as decimal strings ("44.00"); the ledger keeps
// integer minor units. These helpers convert between the two.

func minorToValue(minor int64) string {
	return decimal.NewFromInt(minor).Shift(-2).StringFixed(2)
}

func valueToMinor(value string) int64 {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0
	}
	return d.Shift(2).IntPart()
}
