package batch

import "strings"

const (
	// maxFilenameRunes bounds sanitized names so artifact paths stay well
	// under common filesystem limits even with a long output directory.
	maxFilenameRunes = 100

	// fallbackFilename is used when sanitizing leaves nothing printable.
	fallbackFilename = "untitled"
)

// SanitizeFilename turns a document title into a name safe to use on disk.
// Control characters and the characters `"\/:*?<>|` are stripped, the result
// is truncated to maxFilenameRunes, and an empty result falls back to
// fallbackFilename. The extension is the caller's business.
func SanitizeFilename(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		if r < 0x20 || r == 0x7f {
			continue
		}
		switch r {
		case '"', '\\', '/', ':', '*', '?', '<', '>', '|':
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if runes := []rune(out); len(runes) > maxFilenameRunes {
		out = string(runes[:maxFilenameRunes])
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return fallbackFilename
	}
	return out
}
