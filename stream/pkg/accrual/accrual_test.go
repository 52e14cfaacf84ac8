package accrual

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func snapshot(poolRate, totalUnits, memberUnits, settled int64, updatedAt time.Time) PoolSnapshot {
	return PoolSnapshot{
		PoolFlowRate:  big.NewInt(poolRate),
		TotalUnits:    big.NewInt(totalUnits),
		MemberUnits:   big.NewInt(memberUnits),
		SettledAmount: big.NewInt(settled),
		UpdatedAt:     updatedAt,
	}
}

func TestFlowDrop_Accrual_MemberFlowRate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	t.Run("proportional share of the pool rate", func(t *testing.T) {
		t.Parallel()

		rate := MemberFlowRate(snapshot(1000, 100, 25, 0, now))
		require.Equal(t, int64(250), rate.Int64())
	})

	t.Run("zero total units yields zero rate", func(t *testing.T) {
		t.Parallel()

		rate := MemberFlowRate(snapshot(1000, 0, 0, 0, now))
		require.Equal(t, int64(0), rate.Int64())
	})

	t.Run("truncates toward zero", func(t *testing.T) {
		t.Parallel()

		// 1000 * 1 / 3 = 333.33..., floor to 333
		rate := MemberFlowRate(snapshot(1000, 3, 1, 0, now))
		require.Equal(t, int64(333), rate.Int64())

		// Negative pool rate also truncates toward zero.
		rate = MemberFlowRate(snapshot(-1000, 3, 1, 0, now))
		require.Equal(t, int64(-333), rate.Int64())
	})

	t.Run("never exceeds the pool rate", func(t *testing.T) {
		t.Parallel()

		rate := MemberFlowRate(snapshot(1000, 100, 100, 0, now))
		require.Equal(t, int64(1000), rate.Int64())
	})

	t.Run("handles astronomically large values", func(t *testing.T) {
		t.Parallel()

		poolRate, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
		require.True(t, ok)
		s := PoolSnapshot{
			PoolFlowRate:  poolRate,
			TotalUnits:    big.NewInt(4),
			MemberUnits:   big.NewInt(1),
			SettledAmount: new(big.Int),
			UpdatedAt:     now,
		}
		want, ok := new(big.Int).SetString("30864197253086419725308641972", 10)
		require.True(t, ok)
		require.Equal(t, want, MemberFlowRate(s))
	})
}

func TestFlowDrop_Accrual_BalanceAt(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("accrues rate times elapsed seconds", func(t *testing.T) {
		t.Parallel()

		s := snapshot(1000, 100, 25, 0, at)
		balance := BalanceAt(s, at.Add(10*time.Second))
		require.Equal(t, int64(2500), balance.Int64())
	})

	t.Run("preserves sub-second precision", func(t *testing.T) {
		t.Parallel()

		// 250/s for 1.5s = 375, which second-granularity math would miss.
		s := snapshot(1000, 100, 25, 0, at)
		balance := BalanceAt(s, at.Add(1500*time.Millisecond))
		require.Equal(t, int64(375), balance.Int64())
	})

	t.Run("adds accrual on top of the settled amount", func(t *testing.T) {
		t.Parallel()

		s := snapshot(1000, 100, 25, 7000, at)
		balance := BalanceAt(s, at.Add(4*time.Second))
		require.Equal(t, int64(8000), balance.Int64())
	})

	t.Run("clamps negative elapsed time to zero", func(t *testing.T) {
		t.Parallel()

		s := snapshot(1000, 100, 25, 5000, at)
		balance := BalanceAt(s, at.Add(-time.Minute))
		require.Equal(t, int64(5000), balance.Int64())
	})

	t.Run("zero total units keeps balance at settled amount forever", func(t *testing.T) {
		t.Parallel()

		s := snapshot(1000, 0, 0, 4242, at)
		for _, d := range []time.Duration{0, time.Second, time.Hour, 24 * 365 * time.Hour} {
			require.Equal(t, int64(4242), BalanceAt(s, at.Add(d)).Int64())
		}
	})

	t.Run("deterministic for identical inputs", func(t *testing.T) {
		t.Parallel()

		s := snapshot(987654321, 17, 5, 123456, at)
		now := at.Add(93*time.Second + 217*time.Millisecond)
		require.Equal(t, BalanceAt(s, now), BalanceAt(s, now))
	})

	t.Run("monotonically non-decreasing for non-negative rates", func(t *testing.T) {
		t.Parallel()

		s := snapshot(1000, 7, 3, 0, at)
		prev := BalanceAt(s, at)
		for ms := int64(1); ms < 5000; ms += 37 {
			cur := BalanceAt(s, at.Add(time.Duration(ms)*time.Millisecond))
			require.GreaterOrEqual(t, cur.Cmp(prev), 0, "balance decreased at +%dms", ms)
			prev = cur
		}
	})

	t.Run("does not mutate the snapshot", func(t *testing.T) {
		t.Parallel()

		s := snapshot(1000, 100, 25, 500, at)
		_ = BalanceAt(s, at.Add(time.Minute))
		require.Equal(t, int64(1000), s.PoolFlowRate.Int64())
		require.Equal(t, int64(500), s.SettledAmount.Int64())
	})
}

func TestFlowDrop_Accrual_Format(t *testing.T) {
	t.Parallel()

	wei := func(s string) *big.Int {
		v, ok := new(big.Int).SetString(s, 10)
		require.True(t, ok)
		return v
	}

	t.Run("scales by token decimals with six fraction digits", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, "0.000000", Format(big.NewInt(0)))
		require.Equal(t, "1.000000", Format(wei("1000000000000000000")))
		require.Equal(t, "1.500000", Format(wei("1500000000000000000")))
		require.Equal(t, "0.000001", Format(wei("1000000000000")))
		// Below display resolution truncates, never rounds up.
		require.Equal(t, "0.000000", Format(wei("999999999999")))
		require.Equal(t, "12345.678901", Format(wei("12345678901234567890123")))
	})

	t.Run("formats negative amounts", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, "-1.250000", Format(wei("-1250000000000000000")))
	})

	t.Run("supports smaller decimal bases", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, "1.500000", FormatWithDecimals(big.NewInt(1_500_000), 6))
		require.Equal(t, "2.500000", FormatWithDecimals(big.NewInt(25), 1))
	})

	t.Run("nil amount renders as zero", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, "0.000000", Format(nil))
	})
}
