package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinorRoundTrip(t *testing.T) {
	cases := map[string]int64{
		"0":       0,
		"0.01":    1,
		"35":      3500,
		"1250.5":  125050,
		"-12.345": -1235,
	}
	for in, want := range cases {
		got := ToMinor(decimal.RequireFromString(in))
		if got != want {
			t.Fatalf("ToMinor(%s) = %d, want %d", in, got, want)
		}
	}
	if !FromMinor(125050).Equal(decimal.RequireFromString("1250.50")) {
		t.Fatalf("FromMinor mismatch: %s", FromMinor(125050))
	}
}

func TestParseAcceptsComma(t *testing.T) {
	d, err := Parse(" 50,75 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if Format(d) != "50.75 MZN" {
		t.Fatalf("unexpected format %q", Format(d))
	}
	if _, err := Parse(""); err == nil {
		t.Fatal("expected error for empty amount")
	}
}

func TestInRange(t *testing.T) {
	cases := map[string]bool{
		"0":                     true,
		"1000000000":            true,
		"-1000000000":           true,
		"1000000000.01":         false,
		"184467440737095516.17": false,
	}
	for in, want := range cases {
		if got := InRange(decimal.RequireFromString(in)); got != want {
			t.Fatalf("InRange(%s) = %v, want %v", in, got, want)
		}
	}
}
