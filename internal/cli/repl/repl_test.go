package repl_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codelab/internal/cli/command"
	httpclient "codelab/internal/cli/http"
	"codelab/internal/cli/repl"
	"codelab/internal/cli/state"

	"github.com/fatih/color"
	"github.com/golang-jwt/jwt/v5"
)

type recorded struct {
	method string
	path   string
	auth   string
	trace  string
	body   map[string]string
}

func newSession(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*repl.Session, *bytes.Buffer, *state.TokenState, *[]recorded) {
	t.Helper()
	color.NoColor = true
	var calls []recorded
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.RequestURI(), auth: r.Header.Get("Authorization"), trace: r.Header.Get("X-Trace-Id")}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		calls = append(calls, rec)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	tokens := &state.TokenState{AccessToken: "tok"}
	client := httpclient.New(server.URL+"/", 5*time.Second, func() string { return tokens.AccessToken })
	statePath := filepath.Join(t.TempDir(), "state.json")
	session := repl.New(client, command.Registry(), tokens, statePath, true)
	out := &bytes.Buffer{}
	session.SetOutput(out)
	return session, out, tokens, &calls
}

func writeEnvelope(w http.ResponseWriter, status int, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":     code,
		"message":  message,
		"data":     data,
		"trace_id": "trace-1",
	})
}

func TestRunRendersExecutionError(t *testing.T) {
	session, out, _, calls := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, 10000, "Success", map[string]interface{}{
			"error":      true,
			"result":     "",
			"message":    "NameError: name 'x' is not defined",
			"error_kind": "UndeclaredVariableError",
			"line":       2,
		})
	})

	if err := session.ExecArgs(context.Background(), []string{"compile", "run", "language=python", "code=print(x)\n"}); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected one request, got %d", len(*calls))
	}
	call := (*calls)[0]
	if call.method != http.MethodPost || call.path != "/api/v1/compilations/open" {
		t.Fatalf("unexpected request: %s %s", call.method, call.path)
	}
	if call.auth != "Bearer tok" || call.trace == "" {
		t.Fatalf("missing headers: auth=%q trace=%q", call.auth, call.trace)
	}
	if call.body["codeValue"] != "print(x)\n" {
		t.Fatalf("unexpected code value: %q", call.body["codeValue"])
	}
	text := out.String()
	for _, want := range []string{"HTTP 200", "ERROR UndeclaredVariableError at line 2", "NameError"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output %q missing %q", text, want)
		}
	}
}

func TestSubmitRendersSuccess(t *testing.T) {
	session, out, _, _ := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, 10000, "Success", map[string]interface{}{
			"result":  "hello\n",
			"error":   false,
			"message": "hello\n",
		})
	})
	if err := session.Exec(context.Background(), `compile submit session=s-1 code="int main(void){return 0;}"`); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if !strings.Contains(out.String(), "OK\nhello") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestErrorEnvelopeShowsCodeAndTrace(t *testing.T) {
	session, out, _, _ := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusTooManyRequests, 13004, "Submitting too frequently, please wait", nil)
	})
	if err := session.Exec(context.Background(), "compile submit session=s-1 code=x"); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "HTTP 429") || !strings.Contains(text, "[13004] Submitting too frequently") || !strings.Contains(text, "trace trace-1") {
		t.Fatalf("unexpected output: %q", text)
	}
}

func TestListPrintsJSONData(t *testing.T) {
	session, out, _, calls := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, 10000, "Success", map[string]interface{}{"items": []interface{}{}})
	})
	if err := session.Exec(context.Background(), "compile list activity=a1 limit=10"); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
	if (*calls)[0].path != "/api/v1/compilations?activityId=a1&limit=10" {
		t.Fatalf("unexpected path: %s", (*calls)[0].path)
	}
	if !strings.Contains(out.String(), `"items": []`) {
		t.Fatalf("expected pretty JSON, got %q", out.String())
	}
}

func TestMissingParamWithoutTerminalFails(t *testing.T) {
	session, _, _, calls := newSession(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	err := session.Exec(context.Background(), "session get")
	if err == nil || !strings.Contains(err.Error(), "id is required") {
		t.Fatalf("expected missing id error, got %v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("request must not be sent")
	}
}

func TestUnknownAndMalformedCommands(t *testing.T) {
	session, _, _, _ := newSession(t, func(w http.ResponseWriter, r *http.Request) {})
	cases := []string{"compile", "compile explode", "compile run code", `compile run code="unterminated`}
	for _, line := range cases {
		if err := session.Exec(context.Background(), line); err == nil {
			t.Fatalf("expected %q to fail", line)
		}
	}
}

func TestSetTokenDecodesClaims(t *testing.T) {
	session, out, tokens, _ := newSession(t, func(w http.ResponseWriter, r *http.Request) {})
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-3", "role": "TEACHER"}).SignedString([]byte("k"))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if err := session.Exec(context.Background(), "set token "+raw); err != nil {
		t.Fatalf("set token failed: %v", err)
	}
	if tokens.AccessToken != raw || tokens.Role != "TEACHER" {
		t.Fatalf("token state not updated: %+v", tokens)
	}
	if !strings.Contains(out.String(), "token updated for u-3 (TEACHER)") {
		t.Fatalf("unexpected output: %q", out.String())
	}
	if err := session.Exec(context.Background(), "logout"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if tokens.AccessToken != "" {
		t.Fatalf("logout must clear the token")
	}
}
