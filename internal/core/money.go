// Package core holds the domain types shared by the ledger, the store and the
// HTTP layer, plus the parsing rules applied at the boundary.
//
// This file contains amount parsing. Amounts are decimal currency units
// (300 means three hundred, not cents) and are never represented as floats.
package core

import (
	"math"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// maxAmountDigits bounds the integer part so a typo can't produce an absurd total.
const maxAmountDigits = 12

// ParseAmount converts a user supplied decimal string to an amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and keeps
// every fractional digit; rounding only happens when balances are displayed.
// Negative values and signs are rejected, zero is allowed.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34, nil
//	ParseAmount("12,345") -> 12.345, nil
//	ParseAmount("-1")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return decimal.Zero, ErrInvalidAmount
	}
	intPart, frac := parts[0], ""
	if len(parts) == 2 {
		frac = parts[1]
		if intPart == "" && frac == "" {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(strings.TrimLeft(intPart, "0")) > maxAmountDigits {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range intPart + frac {
		if !unicode.IsDigit(r) {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	num := intPart
	if frac != "" {
		num += "." + frac
	}
	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// AmountFromFloat is used for JSON numbers. Floats are only accepted at the
// boundary and converted straight away.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	return decimal.NewFromFloat(f), nil
}
