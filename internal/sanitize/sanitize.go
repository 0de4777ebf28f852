// Package sanitize rewrites free-text captions so they are safe to embed
// in HTML-parse-mode messages and small enough for platform limits.
package sanitize

import "strings"

// CaptionMaxLen is the longest raw caption kept, in runes. The cap is
// applied before escaping; escaping may push the stored string past this
// length and it is not truncated again.
const CaptionMaxLen = 1024

var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// Caption caps raw to CaptionMaxLen runes and escapes &, < and >.
func Caption(raw string) string {
	return escaper.Replace(truncateRunes(raw, CaptionMaxLen))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
