package accrual

import (
	"math/big"
	"strings"
	"time"
)

// Format renders a smallest-unit amount as a fixed-point decimal with
// DisplayFractionDigits fractional digits, scaled down by TokenDecimals.
func Format(amount *big.Int) string {
	return FormatWithDecimals(amount, TokenDecimals)
}

// FormatWithDecimals is Format with an explicit token decimal base.
func FormatWithDecimals(amount *big.Int, decimals int) string {
	v := new(big.Int).Set(orZero(amount))
	neg := v.Sign() < 0
	if neg {
		v.Neg(v)
	}

	scale := pow10(decimals)
	intPart, frac := new(big.Int).QuoRem(v, scale, new(big.Int))

	switch {
	case decimals > DisplayFractionDigits:
		frac.Quo(frac, pow10(decimals-DisplayFractionDigits))
	case decimals < DisplayFractionDigits:
		frac.Mul(frac, pow10(DisplayFractionDigits-decimals))
	}

	fracStr := frac.String()
	if len(fracStr) < DisplayFractionDigits {
		fracStr = strings.Repeat("0", DisplayFractionDigits-len(fracStr)) + fracStr
	}

	out := intPart.String() + "." + fracStr
	if neg {
		out = "-" + out
	}
	return out
}

// FormatBalanceAt is a convenience that computes and formats the balance in
// one call. This is the function the display layer calls on every redraw.
func FormatBalanceAt(s PoolSnapshot, now time.Time) string {
	return Format(BalanceAt(s, now))
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
