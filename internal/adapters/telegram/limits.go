package telegram

import "unicode/utf8"

// Telegram rejects longer payloads outright.
const (
	maxTextRunes    = 4096
	maxCaptionRunes = 1024
	maxAnswerRunes  = 200
)

// truncRunes cuts s to at most n runes, ending in "…" when it had to cut.
func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n-1 {
			return s[:i] + "…"
		}
		count++
	}
	return s
}
