package command_test

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"codelab/internal/cli/command"
)

func TestBuildSubmitWithSourceFile(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "main.c")
	source := "int main(void) {\n  return 0;\n}\n"
	if err := os.WriteFile(sourcePath, []byte(source), 0o600); err != nil {
		t.Fatalf("write temp source failed: %v", err)
	}

	cmd := command.Registry()["compile submit"]
	params, err := command.ParseTokens([]string{"session=s-1", "file=" + sourcePath})
	if err != nil {
		t.Fatalf("parse tokens failed: %v", err)
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	if req.Method != http.MethodPost || req.Path != "/api/v1/compilations/student" {
		t.Fatalf("unexpected request line: %s %s", req.Method, req.Path)
	}
	var payload map[string]string
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if payload["activitySessionId"] != "s-1" {
		t.Fatalf("unexpected session id: %q", payload["activitySessionId"])
	}
	if payload["codeValue"] != source {
		t.Fatalf("source must be sent untouched, got %q", payload["codeValue"])
	}
}

func TestBuildRunInlineCodeWithAlias(t *testing.T) {
	cmd := command.Registry()["compile run"]
	params := command.Params{}
	params.Set("source_code", "print(1)")
	params.Set("lang", "python")
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if payload["codeValue"] != "print(1)" || payload["language"] != "python" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestBuildPathAndQueryParams(t *testing.T) {
	cases := []struct {
		name string
		key  string
		args []string
		want string
	}{
		{name: "session get", key: "session get", args: []string{"id=abc"}, want: "/api/v1/activity-sessions/abc"},
		{name: "session open escapes", key: "session open", args: []string{"activity=a b"}, want: "/api/v1/activity-sessions/activity/a%20b"},
		{name: "outputs student", key: "outputs student", args: []string{"student=st-9"}, want: "/api/v1/outputs/student/st-9"},
		{name: "list with filters", key: "compile list", args: []string{"activity=a1", "student=s2", "limit=5"}, want: "/api/v1/compilations?activityId=a1&limit=5&studentId=s2"},
		{name: "mine without filters", key: "compile mine", args: nil, want: "/api/v1/compilations/mine"},
	}
	registry := command.Registry()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params, err := command.ParseTokens(tc.args)
			if err != nil {
				t.Fatalf("parse tokens failed: %v", err)
			}
			req, err := command.BuildRequest(registry[tc.key], params)
			if err != nil {
				t.Fatalf("build request failed: %v", err)
			}
			if req.Path != tc.want {
				t.Fatalf("path = %q, want %q", req.Path, tc.want)
			}
			if req.Body != nil {
				t.Fatalf("GET requests carry no body")
			}
		})
	}
}

func TestBuildRequestValidation(t *testing.T) {
	registry := command.Registry()
	if _, err := command.BuildRequest(registry["compile submit"], command.Params{"session": "s-1"}); err == nil {
		t.Fatalf("expected missing code to fail")
	}
	if _, err := command.BuildRequest(registry["compile list"], command.Params{"activity": "a", "limit": "-1"}); err == nil {
		t.Fatalf("expected negative limit to fail")
	}
	if _, err := command.BuildRequest(registry["compile run"], command.Params{"file": filepath.Join(t.TempDir(), "missing.c")}); err == nil {
		t.Fatalf("expected unreadable file to fail")
	}
	if _, err := command.ParseTokens([]string{"novalue"}); err == nil {
		t.Fatalf("expected malformed token to fail")
	}
}

func TestMissingHonorsSourceFile(t *testing.T) {
	cmd := command.Registry()["compile submit"]
	missing := command.Missing(cmd, command.Params{"file": "main.c"})
	if len(missing) != 1 || missing[0].Name != "session" {
		t.Fatalf("unexpected missing fields: %+v", missing)
	}
}
