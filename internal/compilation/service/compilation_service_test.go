package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"codelab/internal/common/cache"
	"codelab/internal/compilation/model"
	"codelab/internal/compilation/service"
	"codelab/internal/diagnostic"
	"codelab/internal/sandbox"
	appErr "codelab/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	brokenSource = "#include <stdio.h>\nint main(){\n  int x = 1\n  return 0;\n}\n"
	validSource  = "#include <stdio.h>\nint main(){printf(\"hi\");return 0;}\n"
	compileMsg   = "Error compiling script at line 3: expected ';' before 'return'"
)

func kindOf(s string) diagnostic.Kind { return diagnostic.Kind(s) }

// scriptedResult fails sources that miss the semicolon and succeeds otherwise.
func scriptedResult(source string, _ sandbox.Language) (sandbox.ExecutionResult, error) {
	if strings.Contains(source, "int x = 1\n") {
		return sandbox.ExecutionResult{
			Error:         true,
			Output:        compileMsg,
			Message:       compileMsg,
			Kind:          diagnostic.KindMissingSemicolon,
			Line:          3,
			RawDiagnostic: "/var/lib/codelab/scratch/ab12/main.c:3:14: error: expected ';' before 'return'",
		}, nil
	}
	return sandbox.ExecutionResult{Output: "hi", Message: "success running script"}, nil
}

type harness struct {
	svc        *service.CompilationService
	sessions   *fakeSessions
	attempts   *fakeAttempts
	database   *fakeDatabase
	executor   *fakeExecutor
	publisher  *fakePublisher
	storage    *fakeStorage
	archiver   *service.Archiver
	cache      cache.Cache
	miniredis  *miniredis.Miniredis
	activities *fakeActivities
}

type harnessOption func(*service.Config, *harness)

func withCache(t *testing.T) harnessOption {
	return func(cfg *service.Config, h *harness) {
		h.cache, h.miniredis = newRedisCache(t)
		cfg.Cache = h.cache
	}
}

func newRedisCache(t *testing.T) (cache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("create cache failed: %v", err)
	}
	return c, mr
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		sessions: newFakeSessions(&model.Session{
			ID:         "sess-1",
			StudentID:  "stu-1",
			ActivityID: "act-c",
			SourceCode: "int main(){}",
		}),
		attempts:  &fakeAttempts{},
		database:  &fakeDatabase{},
		executor:  &fakeExecutor{result: scriptedResult},
		publisher: &fakePublisher{},
		storage:   newFakeStorage(),
		activities: &fakeActivities{byID: map[string]*model.Activity{
			"act-c":  {ID: "act-c", Title: "Hello", Language: sandbox.LanguageC, StarterCode: "int main(){}", TeacherID: "t-1"},
			"act-py": {ID: "act-py", Title: "Loops", Language: sandbox.LanguagePython, StarterCode: "print('hi')", TeacherID: "t-1"},
		}},
	}
	archiver, err := service.NewArchiver(h.storage, "diagnostics", "")
	if err != nil {
		t.Fatalf("create archiver failed: %v", err)
	}
	t.Cleanup(archiver.Close)
	h.archiver = archiver

	cfg := service.Config{
		Students: &fakeStudents{byUser: map[string]*model.Student{
			"user-1": {ID: "stu-1", UserID: "user-1"},
			"user-2": {ID: "stu-2", UserID: "user-2"},
		}},
		Activities: h.activities,
		Sessions:   h.sessions,
		Attempts:   h.attempts,
		Database:   h.database,
		Executor:   h.executor,
		Publisher:  h.publisher,
		Archiver:   archiver,
		EventTopic: "attempts",
		LockWait:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg, h)
	}
	svc, err := service.NewCompilationService(cfg)
	if err != nil {
		t.Fatalf("create service failed: %v", err)
	}
	h.svc = svc
	return h
}

func submit(t *testing.T, h *harness, userID, source string) *service.SubmitOutput {
	t.Helper()
	out, err := h.svc.Submit(context.Background(), service.SubmitInput{SessionID: "sess-1", UserID: userID, SourceCode: source})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return out
}

func TestSubmitRepeatedFailureScoresOne(t *testing.T) {
	h := newHarness(t)

	first := submit(t, h, "user-1", brokenSource)
	if !first.Error || first.Message != compileMsg || first.Result != compileMsg {
		t.Fatalf("unexpected first output: %+v", first)
	}
	if s := h.sessions.get("sess-1"); s.Score != nil || s.CompilationCount != 1 {
		t.Fatalf("score must stay nil after one attempt: %+v", s)
	}

	submit(t, h, "user-1", brokenSource)
	s := h.sessions.get("sess-1")
	if s.CompilationCount != 2 || s.SourceCode != brokenSource {
		t.Fatalf("unexpected session after two attempts: %+v", s)
	}
	if s.Score == nil || math.Abs(*s.Score-1) > 1e-9 {
		t.Fatalf("expected aggregate 1.0, got %v", s.Score)
	}

	attempts := h.attempts.all()
	if len(attempts) != 2 {
		t.Fatalf("expected two attempts, got %d", len(attempts))
	}
	for i, a := range attempts {
		if a.Ordinal != i+1 || !a.Error || a.ErrorLine != 3 {
			t.Fatalf("unexpected attempt %d: %+v", i, a)
		}
		if a.ErrorKind == nil || *a.ErrorKind != diagnostic.KindMissingSemicolon {
			t.Fatalf("unexpected kind on attempt %d: %v", i, a.ErrorKind)
		}
	}
}

func TestSubmitSuccessRecordsCleanAttempt(t *testing.T) {
	h := newHarness(t)
	out := submit(t, h, "user-1", validSource)
	if out.Error || out.Result != "hi" || out.Message != "success running script" {
		t.Fatalf("unexpected output: %+v", out)
	}
	a := h.attempts.all()[0]
	if a.Error || a.ErrorKind != nil || a.ErrorLine != 0 {
		t.Fatalf("success attempt must carry no error data: %+v", a)
	}
	if len(h.storage.objects) != 0 {
		t.Fatalf("successful attempts are not archived")
	}
}

func TestSubmitUnknownLineDefaultsToSentinel(t *testing.T) {
	h := newHarness(t)
	h.executor.result = func(string, sandbox.Language) (sandbox.ExecutionResult, error) {
		return sandbox.ExecutionResult{Error: true, Message: "Error executing script: killed", Kind: diagnostic.KindInfiniteLoop}, nil
	}
	submit(t, h, "user-1", validSource)
	a := h.attempts.all()[0]
	if a.ErrorLine != diagnostic.UnknownLine {
		t.Fatalf("expected line -1, got %d", a.ErrorLine)
	}
}

func TestSubmitRejectsBeforeExecution(t *testing.T) {
	cases := []struct {
		name  string
		input service.SubmitInput
		code  appErr.ErrorCode
	}{
		{name: "missing session", input: service.SubmitInput{UserID: "user-1", SourceCode: validSource}, code: appErr.ValidationFailed},
		{name: "empty source", input: service.SubmitInput{SessionID: "sess-1", UserID: "user-1", SourceCode: "  "}, code: appErr.ValidationFailed},
		{name: "too large", input: service.SubmitInput{SessionID: "sess-1", UserID: "user-1", SourceCode: strings.Repeat("a", 64*1024+1)}, code: appErr.CodeTooLarge},
		{name: "unknown student", input: service.SubmitInput{SessionID: "sess-1", UserID: "ghost", SourceCode: validSource}, code: appErr.StudentNotFound},
		{name: "foreign session", input: service.SubmitInput{SessionID: "sess-1", UserID: "user-2", SourceCode: validSource}, code: appErr.SessionNotFound},
		{name: "missing session row", input: service.SubmitInput{SessionID: "nope", UserID: "user-1", SourceCode: validSource}, code: appErr.SessionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.Submit(context.Background(), tc.input)
			if !appErr.Is(err, tc.code) {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
			if h.executor.count() != 0 {
				t.Fatalf("executor must not run")
			}
			if len(h.attempts.all()) != 0 {
				t.Fatalf("nothing may be recorded")
			}
		})
	}
}

func TestSubmitForeignSessionLooksMissing(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Submit(context.Background(), service.SubmitInput{SessionID: "sess-1", UserID: "user-2", SourceCode: validSource})
	if appErr.GetCode(err).HTTPStatus() != 404 {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestSubmitBlockedConstructRecordsNothing(t *testing.T) {
	h := newHarness(t)
	h.executor.result = func(string, sandbox.Language) (sandbox.ExecutionResult, error) {
		return sandbox.ExecutionResult{}, appErr.BlockedConstructError("c", "scanf")
	}
	_, err := h.svc.Submit(context.Background(), service.SubmitInput{SessionID: "sess-1", UserID: "user-1", SourceCode: "scanf(\"%d\", &x);"})
	if !appErr.Is(err, appErr.BlockedConstruct) {
		t.Fatalf("expected BlockedConstruct, got %v", err)
	}
	if len(h.attempts.all()) != 0 || h.sessions.get("sess-1").CompilationCount != 0 {
		t.Fatalf("policy rejection must not touch the session")
	}
}

func TestSubmitRollbackLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t)
	h.attempts.failNext = errors.New("insert failed")
	_, err := h.svc.Submit(context.Background(), service.SubmitInput{SessionID: "sess-1", UserID: "user-1", SourceCode: validSource})
	if !appErr.Is(err, appErr.AttemptCreateFailed) {
		t.Fatalf("expected AttemptCreateFailed, got %v", err)
	}
	if h.sessions.get("sess-1").CompilationCount != 0 {
		t.Fatalf("session count must not move")
	}
	if len(h.publisher.messages) != 0 {
		t.Fatalf("no event for a failed record")
	}
}

func TestSubmitRateLimit(t *testing.T) {
	h := newHarness(t, withCache(t), func(cfg *service.Config, _ *harness) {
		cfg.RateLimit = service.RateLimitConfig{Max: 2, Window: time.Minute}
	})
	submit(t, h, "user-1", validSource)
	submit(t, h, "user-1", validSource)
	_, err := h.svc.Submit(context.Background(), service.SubmitInput{SessionID: "sess-1", UserID: "user-1", SourceCode: validSource})
	if !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("expected SubmitTooFrequently, got %v", err)
	}
	h.miniredis.FastForward(2 * time.Minute)
	submit(t, h, "user-1", validSource)
}

// expireFailingCache refuses to set TTLs.
type expireFailingCache struct {
	cache.Cache
}

func (c expireFailingCache) Expire(context.Context, string, time.Duration) error {
	return errors.New("expire refused")
}

func TestSubmitRateLimitDropsCounterWithoutTTL(t *testing.T) {
	h := newHarness(t, withCache(t), func(cfg *service.Config, h *harness) {
		cfg.RateLimit = service.RateLimitConfig{Max: 2, Window: time.Minute}
		cfg.Cache = expireFailingCache{Cache: h.cache}
	})
	_, err := h.svc.Submit(context.Background(), service.SubmitInput{SessionID: "sess-1", UserID: "user-1", SourceCode: validSource})
	if !appErr.Is(err, appErr.CacheError) {
		t.Fatalf("expected CacheError, got %v", err)
	}
	if h.miniredis.Exists("compile:rate:student:stu-1") {
		t.Fatalf("counter without ttl must be removed")
	}
	if h.sessions.get("sess-1").CompilationCount != 0 {
		t.Fatalf("no attempt may be recorded")
	}
}

func TestSubmitKeepsSolvedFlag(t *testing.T) {
	h := newHarness(t)
	h.sessions.byID["sess-1"].IsSolved = true
	submit(t, h, "user-1", brokenSource)
	if !h.sessions.get("sess-1").IsSolved {
		t.Fatalf("recording an attempt must not clear the solved flag")
	}
}

func TestSubmitPublishesEventAndArchivesRawDiagnostic(t *testing.T) {
	h := newHarness(t)
	submit(t, h, "user-1", brokenSource)
	submit(t, h, "user-1", brokenSource)

	msgs := h.publisher.messages["attempts"]
	if len(msgs) != 2 {
		t.Fatalf("expected two events, got %d", len(msgs))
	}
	var event model.AttemptRecordedEvent
	if err := json.Unmarshal(msgs[1].Body, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != model.EventAttemptRecorded || event.Ordinal != 2 || event.ErrorKind != "MissingSemicolonError" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Score == nil || *event.Score != 1 {
		t.Fatalf("event must carry the new score: %v", event.Score)
	}
	if msgs[1].ID != event.AttemptID {
		t.Fatalf("message id must be the attempt id")
	}
	if !strings.HasPrefix(event.ArchiveKey, "diagnostics/sess-1/2-") {
		t.Fatalf("unexpected archive key %q", event.ArchiveKey)
	}

	raw, err := h.archiver.Fetch(context.Background(), event.ArchiveKey)
	if err != nil {
		t.Fatalf("fetch archive: %v", err)
	}
	if !strings.Contains(raw, "/var/lib/codelab/scratch/ab12/main.c") {
		t.Fatalf("archive must keep the raw diagnostic, got %q", raw)
	}
}

func TestSubmitPublishFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker down")
	out := submit(t, h, "user-1", validSource)
	if out.Error {
		t.Fatalf("unexpected output: %+v", out)
	}
	if h.sessions.get("sess-1").CompilationCount != 1 {
		t.Fatalf("attempt must still be recorded")
	}
}

func TestSubmitConcurrentSameSession(t *testing.T) {
	for _, name := range []string{"local", "redis"} {
		t.Run(name, func(t *testing.T) {
			var opts []harnessOption
			if name == "redis" {
				opts = append(opts, withCache(t))
			}
			h := newHarness(t, opts...)
			const n = 8
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := h.svc.Submit(context.Background(), service.SubmitInput{SessionID: "sess-1", UserID: "user-1", SourceCode: brokenSource})
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Fatalf("submit failed: %v", err)
				}
			}
			if got := h.sessions.get("sess-1").CompilationCount; got != n {
				t.Fatalf("expected count %d, got %d", n, got)
			}
			seen := make(map[int]bool)
			for _, a := range h.attempts.all() {
				if seen[a.Ordinal] {
					t.Fatalf("duplicate ordinal %d", a.Ordinal)
				}
				seen[a.Ordinal] = true
			}
			for i := 1; i <= n; i++ {
				if !seen[i] {
					t.Fatalf("missing ordinal %d", i)
				}
			}
		})
	}
}

func TestRunFreeform(t *testing.T) {
	h := newHarness(t)
	var gotLang sandbox.Language
	h.executor.result = func(source string, lang sandbox.Language) (sandbox.ExecutionResult, error) {
		gotLang = lang
		return scriptedResult(source, lang)
	}

	res, err := h.svc.RunFreeform(context.Background(), validSource, "")
	if err != nil || res.Output != "hi" || gotLang != sandbox.LanguageC {
		t.Fatalf("unexpected run: %+v %v (lang %s)", res, err, gotLang)
	}
	if _, err := h.svc.RunFreeform(context.Background(), "print(1)", "python"); err != nil || gotLang != sandbox.LanguagePython {
		t.Fatalf("python run failed: %v (lang %s)", err, gotLang)
	}
	if _, err := h.svc.RunFreeform(context.Background(), "x", "cobol"); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
	if len(h.attempts.all()) != 0 || h.database.transactions != 0 {
		t.Fatalf("free-form runs must not record anything")
	}
}
