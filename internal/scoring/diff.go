package scoring

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// ChangedLines compares two sources line by line by position and returns the
// 1-based line numbers that differ. The shorter source is padded with empty
// lines, so appended or removed tail lines count as changed.
func ChangedLines(a, b string) mapset.Set[int] {
	left := splitLines(a)
	right := splitLines(b)
	n := max(len(left), len(right))

	changed := mapset.NewThreadUnsafeSetWithSize[int](n)
	for i := 0; i < n; i++ {
		if lineAt(left, i) != lineAt(right, i) {
			changed.Add(i + 1)
		}
	}
	return changed
}

func splitLines(src string) []string {
	if src == "" {
		return nil
	}
	lines := strings.Split(src, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return ""
}
