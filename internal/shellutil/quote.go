// Package shellutil provides safe POSIX shell string construction for
// remote commands sent to sandboxes. Every value interpolated into a remote
// script passes through Quote or Command — repository URLs and branch names
// are attacker-adjacent input.
package shellutil

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

// Quote wraps a value in single quotes, escaping any embedded single quotes
// (POSIX sh-compatible).
func Quote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// Command renders an argv as a single shell line with each word quoted as
// needed.
func Command(argv ...string) string {
	return shellquote.Join(argv...)
}
