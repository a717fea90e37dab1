package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"codelab/internal/diagnostic"
	"codelab/internal/replay"
	"codelab/internal/sandbox"
	"codelab/internal/sandbox/engine"
	"codelab/pkg/utils/logger"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "codelab-run",
		Usage: "run programs in the local sandbox and replay attempt scenarios",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "scratch", Value: filepath.Join(os.TempDir(), "codelab-run"), Usage: "scratch root for workspaces"},
			&cli.StringFlag{Name: "helper", Usage: "path to the sandbox-init helper; empty runs commands directly"},
			&cli.StringFlag{Name: "seccomp", Usage: "seccomp profile used by the helper"},
			&cli.DurationFlag{Name: "timeout", Value: 30 * time.Second, Usage: "overall execution timeout"},
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "log level"},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("no-color") {
				color.NoColor = true
			}
			err := logger.Init(logger.Config{
				Level:      cmd.String("log-level"),
				Format:     "console",
				OutputPath: "/dev/stderr",
				ErrorPath:  "stderr",
			})
			return ctx, err
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "execute one source file",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lang", Aliases: []string{"l"}, Usage: "c or python; inferred from the extension when empty"},
					&cli.BoolFlag{Name: "json", Usage: "print the result as JSON"},
				},
				Action: runFile,
			},
			{
				Name:      "replay",
				Usage:     "replay attempt scenarios and check their scores",
				ArgsUsage: "<scenario.toml>...",
				Action:    replayScenarios,
			},
		},
	}
}

func newExecutor(cmd *cli.Command) (*sandbox.Executor, error) {
	scratch := cmd.String("scratch")
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root failed: %w", err)
	}
	helper := cmd.String("helper")
	eng, err := engine.NewEngine(engine.Config{
		HelperPath:     helper,
		UseHelper:      helper != "",
		SeccompProfile: cmd.String("seccomp"),
		EnableSeccomp:  helper != "" && cmd.String("seccomp") != "",
	})
	if err != nil {
		return nil, fmt.Errorf("init sandbox engine failed: %w", err)
	}
	return sandbox.NewExecutor(sandbox.Config{
		ScratchRoot:      scratch,
		MaxConcurrent:    1,
		ExecutionTimeout: cmd.Duration("timeout"),
	}, eng, diagnostic.NewClassifier(), nil)
}

func runFile(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return cli.Exit("a source file is required", 2)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read source failed: %w", err)
	}
	lang, err := languageFor(path, cmd.String("lang"))
	if err != nil {
		return err
	}
	exec, err := newExecutor(cmd)
	if err != nil {
		return err
	}
	result, err := exec.Execute(ctx, string(source), lang)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printResult(result)
	}
	if result.Error {
		return cli.Exit("", 1)
	}
	return nil
}

func languageFor(path, explicit string) (sandbox.Language, error) {
	if explicit != "" {
		return sandbox.ParseLanguage(explicit)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".c", ".h":
		return sandbox.LanguageC, nil
	case ".py":
		return sandbox.LanguagePython, nil
	}
	return "", fmt.Errorf("cannot infer language of %s; pass --lang", path)
}

func printResult(result sandbox.ExecutionResult) {
	if !result.Error {
		color.Green("OK")
		if result.Output != "" {
			fmt.Println(strings.TrimRight(result.Output, "\n"))
		}
		return
	}
	header := color.RedString("ERROR") + " " + color.New(color.Bold).Sprint(result.Kind)
	if result.Line > 0 {
		header += fmt.Sprintf(" at line %d", result.Line)
	}
	fmt.Println(header)
	fmt.Println(strings.TrimRight(result.Message, "\n"))
}

func replayScenarios(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return cli.Exit("at least one scenario file is required", 2)
	}
	var exec replay.Executor
	failed, total := 0, 0
	for _, path := range paths {
		sessions, err := replay.Parse(path)
		if err != nil {
			return err
		}
		fmt.Println(color.New(color.Bold).Sprint(path))
		for _, session := range sessions {
			if exec == nil && needsExecutor(session) {
				e, err := newExecutor(cmd)
				if err != nil {
					return err
				}
				exec = e
			}
			total++
			report, err := replay.Replay(ctx, exec, session)
			if err != nil {
				failed++
				fmt.Printf("  %s %s: %v\n", color.RedString("FAIL"), session.Description, err)
				continue
			}
			printReport(report)
			if !report.Passed() {
				failed++
			}
		}
	}
	summary := fmt.Sprintf("%d/%d sessions passed", total-failed, total)
	if failed > 0 {
		return cli.Exit(color.RedString(summary), 1)
	}
	color.Green(summary)
	return nil
}

func needsExecutor(session replay.Session) bool {
	for _, attempt := range session.Attempts {
		if attempt.Outcome == nil {
			return true
		}
	}
	return false
}

func printReport(report replay.Report) {
	status := color.GreenString("PASS")
	if !report.Passed() {
		status = color.RedString("FAIL")
	}
	aggregate := "n/a"
	if report.Score.Aggregate != nil {
		aggregate = fmt.Sprintf("%.4f", *report.Score.Aggregate)
	}
	fmt.Printf("  %s %s (score %s)\n", status, report.Description, aggregate)
	for _, attempt := range report.Attempts {
		outcome := color.GreenString("ok")
		if attempt.Error {
			outcome = color.YellowString("%s line %d", attempt.Kind, attempt.Line)
		}
		fmt.Printf("    #%d %s\n", attempt.Ordinal, outcome)
	}
	for i, pair := range report.Score.PairScores {
		fmt.Printf("    pair %d->%d %.4f\n", i+1, i+2, pair)
	}
	for _, failure := range report.Failures {
		fmt.Printf("    %s %s\n", color.RedString("x"), failure)
	}
}
