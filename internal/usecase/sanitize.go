package usecase

import "strings"

// CleanPortable strips characters outside the portable plain-text range.
// Replies may be delivered over channels (SMS) that cannot reliably
// carry arbitrary symbols, so anything beyond printable ASCII plus
// newline and tab is dropped. Carriage returns are dropped too, so CRLF
// line endings normalize to bare LF.
func CleanPortable(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r >= 0x20 && r < 0x7f:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
