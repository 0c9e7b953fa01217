package pricing

import (
	"testing"

	"carpool/internal/types"
)

func twd(amount int64) types.Money {
	return types.Money{Amount: amount, Currency: "TWD"}
}

func TestRefundSchedule(t *testing.T) {
	cases := []struct {
		name  string
		total types.Money
		hours float64
		want  int64
	}{
		{"more_than_24h_full_refund", twd(1000), 30, 1000},
		{"between_6_and_24h_75pct", twd(1000), 10, 750},
		{"between_1_and_6h_half", twd(1000), 2, 500},
		{"under_1h_nothing", twd(1000), 0.5, 0},
		{"exactly_24h_is_75pct", twd(1000), 24, 750},
		{"exactly_6h_is_half", twd(1000), 6, 500},
		{"exactly_1h_is_nothing", twd(1000), 1, 0},
		{"after_departure", twd(1000), -1, 0},
		{"odd_amount_truncates", twd(999), 10, 749},
	}
	for _, tc := range cases {
		got := Refund(tc.total, tc.hours)
		if got.Amount != tc.want {
			t.Errorf("%s: Refund(%d, %v) = %d, want %d", tc.name, tc.total.Amount, tc.hours, got.Amount, tc.want)
		}
		if got.Currency != tc.total.Currency {
			t.Errorf("%s: currency changed to %q", tc.name, got.Currency)
		}
	}
}

func TestCancellationFee(t *testing.T) {
	cases := []struct {
		name  string
		hours float64
		want  int64
	}{
		{"outside_last_hour_no_fee", 2, 0},
		{"day_ahead_no_fee", 30, 0},
		{"inside_last_hour_flat_half", 0.5, 500},
		{"exactly_1h_charged", 1, 500},
		{"after_departure_charged", -0.5, 500},
	}
	for _, tc := range cases {
		got := CancellationFee(twd(1000), tc.hours)
		if got.Amount != tc.want {
			t.Errorf("%s: CancellationFee(1000, %v) = %d, want %d", tc.name, tc.hours, got.Amount, tc.want)
		}
	}
}

// The fee and the refund schedule are independent policies; make sure nobody
// collapses them into one branch table.
func TestFeeAndRefundDisagree(t *testing.T) {
	total := twd(1000)
	// At 2h out a passenger gets half back and pays no fee.
	if Refund(total, 2).Amount != 500 || CancellationFee(total, 2).Amount != 0 {
		t.Fatal("2h out: want refund 500 and fee 0")
	}
	// At 30min out a passenger gets nothing back while the fee is flat 50%.
	if Refund(total, 0.5).Amount != 0 || CancellationFee(total, 0.5).Amount != 500 {
		t.Fatal("30min out: want refund 0 and fee 500")
	}
}

func TestTotalPrice(t *testing.T) {
	got := TotalPrice(twd(150), 3)
	if got.Amount != 450 || got.Currency != "TWD" {
		t.Fatalf("TotalPrice = %+v", got)
	}
}

func TestValidPerSeat(t *testing.T) {
	if ValidPerSeat(twd(10)) {
		t.Error("below minimum accepted")
	}
	if !ValidPerSeat(twd(150)) {
		t.Error("normal price rejected")
	}
	if ValidPerSeat(twd(100000)) {
		t.Error("above maximum accepted")
	}
}
