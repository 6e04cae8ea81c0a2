package telegram

import (
	"testing"
	"unicode/utf8"
)

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hel…"},
		{"سلام دنیا", 5, "سلام…"},
		{"abc", 0, ""},
	}
	for _, tc := range cases {
		got := truncRunes(tc.in, tc.n)
		if got != tc.want {
			t.Errorf("truncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
		if tc.n > 0 && utf8.RuneCountInString(got) > tc.n {
			t.Errorf("truncRunes(%q, %d) too long: %q", tc.in, tc.n, got)
		}
	}
}
