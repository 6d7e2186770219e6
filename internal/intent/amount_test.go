package intent

import "testing"

func TestLedgerUnits(t *testing.T) {
	cases := []struct {
		name string
		usd  float64
		want int64
	}{
		{"one dollar", 1.00, 1_000_000},
		{"two fifty", 2.50, 2_500_000},
		{"ten cents", 0.10, 100_000},
		{"zero", 0, 0},
		{"sub unit truncates", 0.0000019, 1},
		{"large", 12345.678901, 12_345_678_901},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LedgerUnits(tc.usd)
			if err != nil {
				t.Fatalf("LedgerUnits(%v): %v", tc.usd, err)
			}
			if got != tc.want {
				t.Fatalf("LedgerUnits(%v) = %d, want %d", tc.usd, got, tc.want)
			}
		})
	}
}

func TestLedgerUnitsNeverRoundsUp(t *testing.T) {
	// 报价换算只向下取整：换算回美元不得超过原始金额。
	for _, usd := range []float64{0.1, 0.29, 1.005, 3.333333, 99.999999} {
		units, err := LedgerUnits(usd)
		if err != nil {
			t.Fatalf("LedgerUnits(%v): %v", usd, err)
		}
		if USDFromUnits(units) > usd {
			t.Fatalf("LedgerUnits(%v) = %d rounded up", usd, units)
		}
	}
}

func TestLedgerUnitsRejectsInvalid(t *testing.T) {
	for _, usd := range []float64{-1, -0.01} {
		if _, err := LedgerUnits(usd); err == nil {
			t.Fatalf("expected error for %v", usd)
		}
	}
}
