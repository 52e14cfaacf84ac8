// Package accrual implements the off-chain balance math for a streaming
// payout pool. Everything here is a pure function of a pool snapshot and a
// wall-clock instant, so the display layer can redraw at high frequency
// without touching the network.
package accrual

import (
	"math/big"
	"time"
)

// TokenDecimals is the base-unit scale of the streamed token (wei-style).
const TokenDecimals = 18

// DisplayFractionDigits is how many fractional digits the rendered balance keeps.
const DisplayFractionDigits = 6

var (
	bigZero     = big.NewInt(0)
	bigThousand = big.NewInt(1000)
)

// PoolSnapshot is a point-in-time settlement record for one pool member.
// Amounts are in the token's smallest unit; rates are smallest-unit per second.
type PoolSnapshot struct {
	// PoolFlowRate is the whole pool's outgoing rate. Signed.
	PoolFlowRate *big.Int
	// TotalUnits is the sum of all members' units.
	TotalUnits *big.Int
	// MemberUnits is this member's share of TotalUnits. Never exceeds it.
	MemberUnits *big.Int
	// SettledAmount is the exact amount received as of UpdatedAt
	// (totalAmountReceivedUntilUpdatedAt on chain).
	SettledAmount *big.Int
	// UpdatedAt is when the snapshot was last settled on-chain.
	UpdatedAt time.Time
}

// MemberFlowRate returns floor(poolFlowRate * memberUnits / totalUnits),
// or zero when the pool holds no units. Integer division truncates toward
// zero, so the member rate never exceeds the pool's total.
func MemberFlowRate(s PoolSnapshot) *big.Int {
	if s.TotalUnits == nil || s.TotalUnits.Sign() == 0 {
		return new(big.Int)
	}
	rate := new(big.Int).Mul(orZero(s.PoolFlowRate), orZero(s.MemberUnits))
	return rate.Quo(rate, s.TotalUnits)
}

// BalanceAt returns the member's exact balance at the given instant, in
// smallest units: settled amount plus flow-rate accrual since settlement.
// Elapsed time is clamped to zero so clock skew can never show a balance
// below the last settled amount. The multiplication happens at millisecond
// scale before the division by 1000 to keep sub-second precision.
func BalanceAt(s PoolSnapshot, now time.Time) *big.Int {
	balance := new(big.Int).Set(orZero(s.SettledAmount))

	elapsedMs := now.Sub(s.UpdatedAt).Milliseconds()
	if elapsedMs <= 0 {
		return balance
	}

	accrued := new(big.Int).Mul(MemberFlowRate(s), big.NewInt(elapsedMs))
	accrued.Quo(accrued, bigThousand)
	return balance.Add(balance, accrued)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return bigZero
	}
	return v
}
