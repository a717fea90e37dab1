package service_test

import (
	"context"
	"encoding/json"
	"testing"

	"codelab/internal/common/mq"
	"codelab/internal/compilation/model"
	"codelab/internal/compilation/service"
	"codelab/internal/diagnostic"
	"codelab/internal/sandbox"
	appErr "codelab/pkg/errors"
)

func kindResult(kind diagnostic.Kind) func(string, sandbox.Language) (sandbox.ExecutionResult, error) {
	return func(string, sandbox.Language) (sandbox.ExecutionResult, error) {
		return sandbox.ExecutionResult{Error: true, Output: string(kind), Message: string(kind), Kind: kind, Line: 2}, nil
	}
}

func submitKinds(t *testing.T, h *harness, kinds ...diagnostic.Kind) {
	t.Helper()
	for _, k := range kinds {
		h.executor.result = kindResult(k)
		submit(t, h, "user-1", validSource)
	}
}

func TestTopKindsFallsBackToSQL(t *testing.T) {
	h := newHarness(t)
	submitKinds(t, h,
		diagnostic.KindSyntax,
		diagnostic.KindMissingSemicolon,
		diagnostic.KindSyntax,
		diagnostic.KindImport,
		diagnostic.KindAssertion,
		diagnostic.KindMissingSemicolon,
		diagnostic.KindSyntax,
	)

	byStudent, err := h.svc.TopKindsByStudent(context.Background(), "stu-1")
	if err != nil {
		t.Fatalf("top kinds: %v", err)
	}
	want := []model.KindCount{
		{Kind: diagnostic.KindSyntax, Count: 3},
		{Kind: diagnostic.KindMissingSemicolon, Count: 2},
		{Kind: diagnostic.KindAssertion, Count: 1},
	}
	if len(byStudent) != len(want) {
		t.Fatalf("unexpected ranking: %+v", byStudent)
	}
	for i := range want {
		if byStudent[i] != want[i] {
			t.Fatalf("rank %d: got %+v, want %+v", i, byStudent[i], want[i])
		}
	}

	byActivity, err := h.svc.TopKindsByActivity(context.Background(), "act-c")
	if err != nil || len(byActivity) != 1 {
		t.Fatalf("unexpected activity view: %+v %v", byActivity, err)
	}
	if byActivity[0].SessionID != "sess-1" || byActivity[0].CompilationCount != 7 || len(byActivity[0].Kinds) != 3 {
		t.Fatalf("unexpected session entry: %+v", byActivity[0])
	}
}

func TestTopKindsReadsProjectedCounters(t *testing.T) {
	h := newHarness(t, withCache(t))
	projector, err := service.NewKindProjector(h.cache)
	if err != nil {
		t.Fatalf("create projector: %v", err)
	}
	// The first read caches the empty ranking.
	kinds, err := h.svc.TopKindsByStudent(context.Background(), "stu-1")
	if err != nil || len(kinds) != 0 {
		t.Fatalf("expected empty ranking, got %+v %v", kinds, err)
	}
	if !h.miniredis.Exists(service.StudentKindsKey("stu-1")) {
		t.Fatalf("empty ranking should be cached")
	}

	submitKinds(t, h, diagnostic.KindImport, diagnostic.KindImport, diagnostic.KindSyntax)
	for _, msg := range h.publisher.messages["attempts"] {
		if err := projector.Handle(context.Background(), msg); err != nil {
			t.Fatalf("project: %v", err)
		}
	}
	// Drop the SQL rows so only the counters can answer.
	h.attempts.items = nil

	kinds, err = h.svc.TopKindsByStudent(context.Background(), "stu-1")
	if err != nil {
		t.Fatalf("top kinds: %v", err)
	}
	if len(kinds) != 2 || kinds[0].Kind != diagnostic.KindImport || kinds[0].Count != 2 || kinds[1].Kind != diagnostic.KindSyntax {
		t.Fatalf("unexpected ranking from counters: %+v", kinds)
	}
}

func TestTopKindsRebuildsCountersFromSQL(t *testing.T) {
	h := newHarness(t, withCache(t))
	// Events were never projected, so the counters start missing.
	submitKinds(t, h, diagnostic.KindSyntax, diagnostic.KindImport, diagnostic.KindSyntax)

	kinds, err := h.svc.TopKindsByStudent(context.Background(), "stu-1")
	if err != nil {
		t.Fatalf("top kinds: %v", err)
	}
	if len(kinds) != 2 || kinds[0].Kind != diagnostic.KindSyntax || kinds[0].Count != 2 {
		t.Fatalf("unexpected ranking: %+v", kinds)
	}
	key := service.StudentKindsKey("stu-1")
	if score, err := h.miniredis.ZScore(key, string(diagnostic.KindSyntax)); err != nil || score != 2 {
		t.Fatalf("counters not rebuilt: %v %v", score, err)
	}
	if ttl := h.miniredis.TTL(key); ttl <= 0 {
		t.Fatalf("rebuilt counters must expire, ttl %v", ttl)
	}
}

func TestTopKindsValidation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.TopKindsByActivity(context.Background(), "missing"); !appErr.Is(err, appErr.ActivityNotFound) {
		t.Fatalf("expected ActivityNotFound, got %v", err)
	}
	if _, err := h.svc.TopKindsByStudent(context.Background(), ""); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func attemptMessage(t *testing.T, attemptID, kind string) *mq.Message {
	t.Helper()
	body, err := json.Marshal(model.AttemptRecordedEvent{
		Type:      model.EventAttemptRecorded,
		AttemptID: attemptID,
		SessionID: "sess-9",
		StudentID: "stu-9",
		Error:     kind != "",
		ErrorKind: kind,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return mq.NewMessage(attemptID, body)
}

func TestProjectorCountsEachAttemptOnce(t *testing.T) {
	c, mr := newRedisCache(t)
	projector, err := service.NewKindProjector(c)
	if err != nil {
		t.Fatalf("create projector: %v", err)
	}
	sessionKey, studentKey := service.SessionKindsKey("sess-9"), service.StudentKindsKey("stu-9")
	if _, err := mr.ZAdd(sessionKey, 0, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := mr.ZAdd(studentKey, 0, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}

	msg := attemptMessage(t, "att-1", "SyntaxError")
	for i := 0; i < 3; i++ {
		if err := projector.Handle(context.Background(), msg); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	score, err := mr.ZScore(sessionKey, "SyntaxError")
	if err != nil || score != 1 {
		t.Fatalf("expected one count, got %v %v", score, err)
	}
	if score, _ := mr.ZScore(studentKey, "SyntaxError"); score != 1 {
		t.Fatalf("expected one student count, got %v", score)
	}

	if err := projector.Handle(context.Background(), attemptMessage(t, "att-2", "")); err != nil {
		t.Fatalf("handle success event: %v", err)
	}
	if err := projector.Handle(context.Background(), mq.NewMessage("bad", []byte("{"))); err != nil {
		t.Fatalf("malformed events are dropped, got %v", err)
	}
	if mr.Exists("analytics:projected:att-2") {
		t.Fatalf("successful attempts are not projected")
	}
}

func TestProjectorSkipsMissingCounters(t *testing.T) {
	c, mr := newRedisCache(t)
	projector, err := service.NewKindProjector(c)
	if err != nil {
		t.Fatalf("create projector: %v", err)
	}
	sessionKey := service.SessionKindsKey("sess-9")
	if _, err := mr.ZAdd(sessionKey, 0, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := projector.Handle(context.Background(), attemptMessage(t, "att-1", "ImportError")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if score, _ := mr.ZScore(sessionKey, "ImportError"); score != 1 {
		t.Fatalf("cached counter should be bumped, got %v", score)
	}
	if mr.Exists(service.StudentKindsKey("stu-9")) {
		t.Fatalf("uncached counter must be left for the reader to rebuild")
	}
}

func TestProjectorRedeliveryAfterFailureDoesNotDoubleCount(t *testing.T) {
	c, mr := newRedisCache(t)
	projector, err := service.NewKindProjector(c)
	if err != nil {
		t.Fatalf("create projector: %v", err)
	}
	sessionKey := service.SessionKindsKey("sess-9")
	if _, err := mr.ZAdd(sessionKey, 0, ""); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// A student key of the wrong type makes the second increment fail.
	if err := mr.Set(service.StudentKindsKey("stu-9"), "corrupt"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	msg := attemptMessage(t, "att-1", "SyntaxError")
	if err := projector.Handle(context.Background(), msg); err == nil {
		t.Fatalf("expected the failed increment to surface")
	}
	if err := projector.Handle(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if score, _ := mr.ZScore(sessionKey, "SyntaxError"); score != 1 {
		t.Fatalf("session counted %v times, want 1", score)
	}
}
