package command

import "testing"

func TestParsePay(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		found  bool
		amount string
	}{
		{name: "surrounded by text", input: "please /pay 12.5 sol, thanks", found: true, amount: "12.5"},
		{name: "bare integer", input: "/pay 3", found: true, amount: "3"},
		{name: "uppercase trigger", input: "/PAY 7 SOL", found: true, amount: "7"},
		{name: "no command", input: "no command here", found: false},
		{name: "non-numeric amount", input: "/pay abc", found: false},
		{name: "missing amount", input: "/pay", found: false},
		{name: "zero amount", input: "/pay 0", found: false},
		{name: "zero fraction", input: "/pay 0.000", found: false},
		{name: "leading zeros trimmed", input: "/pay 007.50", found: true, amount: "7.5"},
		{name: "trailing dot not consumed", input: "/pay 2.", found: true, amount: "2"},
		{name: "negative sign breaks match", input: "/pay -4", found: false},
		{name: "empty input", input: "", found: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParsePay(tc.input)
			if ok != tc.found {
				t.Fatalf("ParsePay(%q) found = %v, want %v", tc.input, ok, tc.found)
			}
			if ok && got.Amount != tc.amount {
				t.Fatalf("ParsePay(%q) amount = %q, want %q", tc.input, got.Amount, tc.amount)
			}
		})
	}
}

func TestParsePayFirstMatchOnly(t *testing.T) {
	got, ok := ParsePay("/pay 1.5 then later /pay 99")
	if !ok {
		t.Fatal("expected a command")
	}
	if got.Amount != "1.5" {
		t.Fatalf("expected the first occurrence to win, got %q", got.Amount)
	}
}
