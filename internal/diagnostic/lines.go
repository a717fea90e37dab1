package diagnostic

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// UnknownLine marks an errored run whose location could not be recovered.
const UnknownLine = -1

var (
	// <path>:<line>:[<col>:]? [fatal ](error|warning): <message>
	diagnosticLineRe = regexp.MustCompile(`^(.+?):(\d+):(?:(\d+):)?\s*(?:fatal\s+)?(error|warning):\s*(.*)$`)
	tracebackFrameRe = regexp.MustCompile(`File "([^"]*)", line (\d+)`)
	lineMarkerRe     = regexp.MustCompile(`\b[Ll]ine (\d+)\b`)
)

// DiagnosticLine is one parsed compiler diagnostic.
type DiagnosticLine struct {
	Path     string
	Line     int
	Column   int
	Severity string
	Message  string
	Index    int
}

// ParseDiagnosticLine parses a single compiler diagnostic line.
func ParseDiagnosticLine(line string) (DiagnosticLine, bool) {
	m := diagnosticLineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return DiagnosticLine{}, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return DiagnosticLine{}, false
	}
	col, _ := strconv.Atoi(m[3])
	return DiagnosticLine{
		Path:     m[1],
		Line:     n,
		Column:   col,
		Severity: m[4],
		Message:  strings.TrimSpace(m[5]),
	}, true
}

// FirstDiagnostic returns the first error diagnostic, falling back to the
// first warning when the output contains no error line.
func FirstDiagnostic(text string) (DiagnosticLine, bool) {
	var warning DiagnosticLine
	haveWarning := false
	for i, line := range strings.Split(text, "\n") {
		d, ok := ParseDiagnosticLine(line)
		if !ok {
			continue
		}
		d.Index = i
		if d.Severity == "error" {
			return d, true
		}
		if !haveWarning {
			warning = d
			haveWarning = true
		}
	}
	return warning, haveWarning
}

// ExtractLineNumber returns the line of the first compiler diagnostic in
// text, or UnknownLine.
func ExtractLineNumber(text string) int {
	d, ok := FirstDiagnostic(text)
	if !ok || d.Line <= 0 {
		return UnknownLine
	}
	return d.Line
}

// ExtractRuntimeLine finds the source line named by a runtime error. A
// traceback frame pointing at sourceName wins; the innermost one is used.
// Without such a frame the last "line N" marker is taken.
func ExtractRuntimeLine(text, sourceName string) int {
	if sourceName != "" {
		frames := tracebackFrameRe.FindAllStringSubmatch(text, -1)
		for i := len(frames) - 1; i >= 0; i-- {
			if filepath.Base(frames[i][1]) != sourceName {
				continue
			}
			if n, err := strconv.Atoi(frames[i][2]); err == nil && n > 0 {
				return n
			}
		}
	}
	markers := lineMarkerRe.FindAllStringSubmatch(text, -1)
	if len(markers) == 0 {
		return UnknownLine
	}
	n, err := strconv.Atoi(markers[len(markers)-1][1])
	if err != nil || n <= 0 {
		return UnknownLine
	}
	return n
}

// firstErrorBlock returns the first error diagnostic together with the note
// and context lines that follow it, up to the next error or warning.
func firstErrorBlock(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	start := -1
	for i, line := range lines {
		if d, ok := ParseDiagnosticLine(line); ok && d.Severity == "error" {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}
	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		if _, ok := ParseDiagnosticLine(lines[i]); ok {
			end = i
			break
		}
	}
	return strings.Join(lines[start:end], "\n"), true
}
