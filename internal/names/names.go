// Package names derives sandbox names. The sandbox provider uses names as
// DNS labels, so the output is constrained to a lowercase slug.
package names

import (
	"strings"
	"time"
)

// MaxLen bounds generated names; the provider rejects longer labels.
const MaxLen = 50

const prefix = "cockpit"

// Sandbox derives a sandbox name from a timestamp, e.g.
// "cockpit-20260828-153004". The result is always a valid slug.
func Sandbox(t time.Time) string {
	return Slug(prefix + "-" + t.UTC().Format("20060102-150405"))
}

// Slug lowercases the input, maps every run of non-alphanumeric characters
// to a single hyphen, trims leading/trailing hyphens, and truncates to
// MaxLen (re-trimming so truncation never leaves a trailing hyphen).
func Slug(s string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		default:
			pendingHyphen = true
		}
	}
	out := b.String()
	if len(out) > MaxLen {
		out = strings.TrimRight(out[:MaxLen], "-")
	}
	return out
}
