package classifier

import "strings"

var newlines = strings.NewReplacer("\r", "", "\n", "")

// StripNewlines removes carriage returns and line feeds.
func StripNewlines(s string) string { return newlines.Replace(s) }

// Truncate shortens s to max runes by replacing its middle with "...".
// A max of zero or less leaves s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	left := (max - 3) / 2
	right := max - 3 - left
	return string(r[:left]) + "..." + string(r[len(r)-right:])
}
