package netclient

import (
	"errors"
	"testing"
)

func TestNormalizeDestination(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+49 170 1234567", "491701234567", false},
		{"491701234567", "491701234567", false},
		{"(212) 555-0183", "2125550183", false},
		{"+1-212-555-0183", "12125550183", false},
		{"", "", true},
		{"12345", "", true},          // too short
		{"call me", "", true},        // letters
		{"49+1701234567", "", true},  // plus not leading
		{"+49;1701234567", "", true}, // stray punctuation
	}
	for _, tc := range cases {
		got, err := NormalizeDestination(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizeDestination(%q) should fail", tc.in)
			} else if !errors.Is(err, ErrInvalidDestination) {
				t.Errorf("NormalizeDestination(%q) error = %v, want ErrInvalidDestination", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeDestination(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeDestination(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
