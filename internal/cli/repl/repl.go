package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"codelab/internal/cli/command"
	httpclient "codelab/internal/cli/http"
	"codelab/internal/cli/state"
	pkgerrors "codelab/pkg/errors"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/google/shlex"
)

const prompt = "codelab> "

var errExit = errors.New("exit")

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	tokenState *state.TokenState
	statePath  string
	prettyJSON bool
	out        io.Writer
	rl         *readline.Instance

	ok   func(a ...interface{}) string
	bad  func(a ...interface{}) string
	dim  func(a ...interface{}) string
	bold func(a ...interface{}) string
}

func New(client *httpclient.Client, commands map[string]command.Command, tokenState *state.TokenState, statePath string, prettyJSON bool) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		tokenState: tokenState,
		statePath:  statePath,
		prettyJSON: prettyJSON,
		out:        color.Output,
		ok:         color.New(color.FgGreen, color.Bold).SprintFunc(),
		bad:        color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:        color.New(color.Faint).SprintFunc(),
		bold:       color.New(color.Bold).SprintFunc(),
	}
}

// SetOutput redirects everything the session prints.
func (s *Session) SetOutput(w io.Writer) {
	s.out = w
}

// Run reads commands until exit or EOF.
func (s *Session) Run(ctx context.Context, historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	s.rl = rl
	s.out = rl.Stdout()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		if err := s.Exec(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				s.printLine("bye")
				return nil
			}
			s.printLine("%s %v", s.bad("error:"), err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Exec runs one input line.
func (s *Session) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if handled, err := s.handleSystemCommand(line); handled {
		return err
	}
	return s.handleCommand(ctx, line)
}

func (s *Session) handleSystemCommand(line string) (bool, error) {
	switch line {
	case "exit", "quit":
		return true, errExit
	case "help":
		s.printHelp()
		return true, nil
	case "logout":
		*s.tokenState = state.TokenState{}
		if err := state.Clear(s.statePath); err != nil {
			return true, err
		}
		s.printLine("token cleared")
		return true, nil
	}
	if strings.HasPrefix(line, "set ") {
		return true, s.handleSet(strings.TrimSpace(strings.TrimPrefix(line, "set ")))
	}
	if strings.HasPrefix(line, "show ") {
		s.handleShow(strings.TrimSpace(strings.TrimPrefix(line, "show ")))
		return true, nil
	}
	return false, nil
}

func (s *Session) handleSet(args string) error {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return fmt.Errorf("usage: set base|token|timeout")
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			return fmt.Errorf("usage: set base http://127.0.0.1:8080")
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			return fmt.Errorf("usage: set timeout 30s")
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if len(parts) < 2 {
			return fmt.Errorf("usage: set token <access_token>")
		}
		st, err := state.FromToken(parts[len(parts)-1])
		if err != nil {
			return err
		}
		*s.tokenState = st
		if err := state.Save(s.statePath, st); err != nil {
			return fmt.Errorf("save token failed: %w", err)
		}
		s.printLine("token updated for %s (%s)", orEmpty(st.Subject), orEmpty(st.Role))
	default:
		return fmt.Errorf("unknown set command")
	}
	return nil
}

func (s *Session) handleShow(args string) {
	switch args {
	case "token":
		if s.tokenState.AccessToken == "" {
			s.printLine("token: <empty>")
			return
		}
		token := s.tokenState.AccessToken
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
		s.printLine("subject: %s role: %s", orEmpty(s.tokenState.Subject), orEmpty(s.tokenState.Role))
		if !s.tokenState.ExpiresAt.IsZero() {
			expiry := s.tokenState.ExpiresAt.Format(time.RFC3339)
			if s.tokenState.Expired(time.Now()) {
				expiry = s.bad(expiry + " (expired)")
			}
			s.printLine("expires: %s", expiry)
		}
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("tokenStatePath: %s", s.statePath)
	default:
		s.printLine("usage: show token|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	return s.handleTokens(ctx, tokens)
}

// ExecArgs runs one command given as already split arguments.
func (s *Session) ExecArgs(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if handled, err := s.handleSystemCommand(strings.Join(args, " ")); handled {
		if errors.Is(err, errExit) {
			return nil
		}
		return err
	}
	return s.handleTokens(ctx, args)
}

func (s *Session) handleTokens(ctx context.Context, tokens []string) error {
	if len(tokens) < 2 {
		return fmt.Errorf("invalid command, use: <service> <action> key=value ...")
	}
	cmd, ok := s.commands[tokens[0]+" "+tokens[1]]
	if !ok {
		return fmt.Errorf("unknown command: %s %s", tokens[0], tokens[1])
	}
	params, err := command.ParseTokens(tokens[2:])
	if err != nil {
		return err
	}
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(cmd, resp)
	return nil
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	missing := command.Missing(cmd, params)
	if len(missing) == 0 {
		return nil
	}
	if s.rl == nil {
		return fmt.Errorf("%s is required", missing[0].Name)
	}
	for _, field := range missing {
		if field.Type == command.FieldSource {
			path, err := s.promptValue(field.Prompt + " file")
			if err != nil {
				return err
			}
			params.Set("file", path)
			continue
		}
		value, err := s.promptValue(field.Prompt)
		if err != nil {
			return err
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) promptValue(label string) (string, error) {
	s.rl.SetPrompt(label + ": ")
	defer s.rl.SetPrompt(prompt)
	line, err := s.rl.Readline()
	if err != nil {
		return "", fmt.Errorf("read input failed: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// executionView covers both the graded submit output and a raw execution
// result.
type executionView struct {
	Error     bool   `json:"error"`
	Result    string `json:"result"`
	Message   string `json:"message"`
	ErrorKind string `json:"error_kind"`
	Line      *int   `json:"line"`
}

func (s *Session) renderResponse(cmd command.Command, resp httpclient.ResponseInfo) {
	status := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if resp.StatusCode >= 400 {
		status = s.bad(status)
	} else {
		status = s.ok(status)
	}
	s.printLine("%s %s", status, s.dim(fmt.Sprintf("(%s)", resp.Duration.Round(time.Millisecond))))

	env, ok := resp.Envelope()
	if !ok {
		if len(resp.Body) > 0 {
			s.printLine("%s", string(resp.Body))
		}
		return
	}
	if env.Code != int(pkgerrors.Success) {
		s.printLine("%s %s", s.bad(fmt.Sprintf("[%d]", env.Code)), env.Message)
		if env.TraceID != "" {
			s.printLine("%s", s.dim("trace "+env.TraceID))
		}
		return
	}
	if cmd.Service == "compile" && (cmd.Action == "submit" || cmd.Action == "run") {
		var view executionView
		if err := json.Unmarshal(env.Data, &view); err == nil {
			s.renderExecution(view)
			return
		}
	}
	s.printJSON(env.Data)
}

func (s *Session) renderExecution(view executionView) {
	if !view.Error {
		s.printLine("%s", s.ok("OK"))
		if view.Result != "" {
			s.printLine("%s", strings.TrimRight(view.Result, "\n"))
		}
		return
	}
	header := s.bad("ERROR")
	if view.ErrorKind != "" {
		header += " " + s.bold(view.ErrorKind)
	}
	if view.Line != nil && *view.Line > 0 {
		header += fmt.Sprintf(" at line %d", *view.Line)
	}
	s.printLine("%s", header)
	text := view.Message
	if text == "" {
		text = view.Result
	}
	if text != "" {
		s.printLine("%s", strings.TrimRight(text, "\n"))
	}
}

func (s *Session) printJSON(data json.RawMessage) {
	if len(data) == 0 || string(data) == "null" {
		return
	}
	if s.prettyJSON {
		var raw interface{}
		if err := json.Unmarshal(data, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(data))
}

func (s *Session) completer() *readline.PrefixCompleter {
	services := map[string][]readline.PrefixCompleterInterface{}
	var order []string
	for _, key := range command.SortedKeys(s.commands) {
		cmd := s.commands[key]
		if _, seen := services[cmd.Service]; !seen {
			order = append(order, cmd.Service)
		}
		services[cmd.Service] = append(services[cmd.Service], readline.PcItem(cmd.Action))
	}
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("logout"),
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("timeout"), readline.PcItem("token")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("config")),
	}
	for _, service := range order {
		items = append(items, readline.PcItem(service, services[service]...))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printHelp() {
	s.printLine("usage: <service> <action> key=value ...")
	s.printLine("system: help | exit | logout | set base|timeout|token | show token|config")
	s.printLine("commands:")
	for _, key := range command.SortedKeys(s.commands) {
		s.printLine("  %-18s %s", key, s.dim(s.commands[key].Summary))
	}
	s.printLine("examples:")
	s.printLine("  session open activity=act-1")
	s.printLine("  compile submit session=<id> file=./main.c")
	s.printLine("  compile run language=python code=\"print(1)\"")
}

func (s *Session) printLine(format string, args ...interface{}) {
	out := s.out
	if out == nil {
		out = os.Stdout
	}
	_, _ = fmt.Fprintf(out, format+"\n", args...)
}

func orEmpty(value string) string {
	if value == "" {
		return "<empty>"
	}
	return value
}
