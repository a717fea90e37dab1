package diagnostic

import (
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

const truncatedSuffix = "\n... (output truncated)"

// SanitizePaths removes scratch directory prefixes from text so that
// user-facing messages never reveal host paths. Longer roots are replaced
// first so nested roots collapse correctly.
func SanitizePaths(text string, roots ...string) string {
	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		if root == "" {
			continue
		}
		root = filepath.Clean(root)
		if root == "/" || root == "." {
			continue
		}
		cleaned = append(cleaned, root)
	}
	sort.Slice(cleaned, func(i, j int) bool { return len(cleaned[i]) > len(cleaned[j]) })
	for _, root := range cleaned {
		text = stripRoot(text, root)
	}
	return text
}

// stripRoot drops root and any single path component that follows it, so
// "<root>/<workspace>/main.c" becomes "main.c".
func stripRoot(text, root string) string {
	prefix := root + string(filepath.Separator)
	var b strings.Builder
	for {
		idx := strings.Index(text, prefix)
		if idx < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:idx])
		rest := text[idx+len(prefix):]
		// Keep only the last path element.
		end := strings.IndexAny(rest, " \t\n\"':,)")
		if end < 0 {
			end = len(rest)
		}
		b.WriteString(filepath.Base(rest[:end]))
		text = rest[end:]
	}
}

// Truncate cuts text to at most max bytes on a rune boundary.
func Truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncatedSuffix
}
