package diagnostic_test

import (
	"strings"
	"testing"

	"codelab/internal/diagnostic"
)

func TestSanitizePaths(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		roots []string
		want  string
	}{
		{
			name:  "workspace under root",
			text:  "/var/lib/codelab/scratch/6f1c/main.c:3:14: error: expected ';'",
			roots: []string{"/var/lib/codelab/scratch"},
			want:  "main.c:3:14: error: expected ';'",
		},
		{
			name:  "python traceback",
			text:  `  File "/tmp/run/ab12/main.py", line 2, in <module>`,
			roots: []string{"/tmp/run/ab12", "/tmp/run"},
			want:  `  File "main.py", line 2, in <module>`,
		},
		{
			name:  "several occurrences",
			text:  "/s/x/main.c: In function 'main':\n/s/x/main.c:4:1: error: boom",
			roots: []string{"/s"},
			want:  "main.c: In function 'main':\nmain.c:4:1: error: boom",
		},
		{
			name:  "root slash ignored",
			text:  "/etc/passwd",
			roots: []string{"/", ""},
			want:  "/etc/passwd",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := diagnostic.SanitizePaths(tc.text, tc.roots...); got != tc.want {
				t.Fatalf("SanitizePaths() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := diagnostic.Truncate("short", 10); got != "short" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	long := strings.Repeat("é", 10)
	got := diagnostic.Truncate(long, 5)
	if !strings.HasSuffix(got, "(output truncated)") {
		t.Fatalf("missing truncation marker: %q", got)
	}
	body := strings.TrimSuffix(got, "\n... (output truncated)")
	if body != "éé" {
		t.Fatalf("expected cut on rune boundary, got %q", body)
	}
}
