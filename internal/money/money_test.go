package money

import "testing"

func TestParse(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"150", 15000, false},
		{"150.5", 15050, false},
		{"150.50", 15050, false},
		{"0.01", 1, false},
		{"0", 0, false},
		{"-25.75", -2575, false},
		{".50", 50, false},
		{"1500.00", 150000, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1.234", 0, true},
		{"1.2.3", 0, true},
		{".", 0, true},
	}

	for _, tc := range cases {
		got, err := Parse(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Parse(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{15000, "150.00"},
		{1, "0.01"},
		{0, "0.00"},
		{-2575, "-25.75"},
		{3000, "30.00"},
	}
	for _, tc := range cases {
		if got := Format(tc.in); got != tc.want {
			t.Errorf("Format(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"0.00", "150.00", "0.01", "9999.99"} {
		c, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := Format(c); got != s {
			t.Errorf("Format(Parse(%q)) = %q", s, got)
		}
	}
}

func TestFee(t *testing.T) {
	// 1500.00 * 0.02 = 30.00
	if got := Fee(150000, 0.02); got != 3000 {
		t.Errorf("Fee(150000, 0.02) = %d, want 3000", got)
	}
	// Rounding: 10.01 * 0.025 = 0.250025 -> 0.25
	if got := Fee(1001, 0.025); got != 25 {
		t.Errorf("Fee(1001, 0.025) = %d, want 25", got)
	}
	// Half rounds away from zero: 0.50 * 0.03 = 0.015 -> 0.02
	if got := Fee(50, 0.03); got != 2 {
		t.Errorf("Fee(50, 0.03) = %d, want 2", got)
	}
}
