package service_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"codelab/internal/common/db"
	"codelab/internal/common/mq"
	"codelab/internal/common/storage"
	"codelab/internal/compilation/model"
	"codelab/internal/compilation/repository"
	"codelab/internal/sandbox"
)

type fakeStudents struct {
	byUser map[string]*model.Student
}

func (f *fakeStudents) GetByUserID(_ context.Context, userID string) (*model.Student, error) {
	s, ok := f.byUser[userID]
	if !ok {
		return nil, repository.ErrStudentNotFound
	}
	copy := *s
	return &copy, nil
}

type fakeActivities struct {
	byID map[string]*model.Activity
}

func (f *fakeActivities) GetByID(_ context.Context, id string) (*model.Activity, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrActivityNotFound
	}
	copy := *a
	return &copy, nil
}

type fakeSessions struct {
	mu          sync.Mutex
	byID        map[string]*model.Session
	invalidated []string
}

func newFakeSessions(sessions ...*model.Session) *fakeSessions {
	f := &fakeSessions{byID: make(map[string]*model.Session)}
	for _, s := range sessions {
		f.byID[s.ID] = s
	}
	return f
}

func (f *fakeSessions) get(id string) *model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *f.byID[id]
	return &copy
}

func (f *fakeSessions) GetByID(_ context.Context, _ db.Transaction, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	copy := *s
	return &copy, nil
}

func (f *fakeSessions) FindByStudentActivity(_ context.Context, _ db.Transaction, studentID, activityID string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.StudentID == studentID && s.ActivityID == activityID {
			copy := *s
			return &copy, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (f *fakeSessions) ListByActivity(_ context.Context, activityID string) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.byID {
		if s.ActivityID == activityID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (f *fakeSessions) Create(_ context.Context, _ db.Transaction, session *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byID {
		if s.StudentID == session.StudentID && s.ActivityID == session.ActivityID {
			return repository.ErrSessionExists
		}
	}
	copy := *session
	f.byID[session.ID] = &copy
	return nil
}

func (f *fakeSessions) Update(_ context.Context, _ db.Transaction, session *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.byID[session.ID]
	if !ok {
		return repository.ErrSessionNotFound
	}
	copy := *session
	copy.IsSolved = stored.IsSolved
	f.byID[session.ID] = &copy
	return nil
}

func (f *fakeSessions) Invalidate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, id)
	return nil
}

type fakeAttempts struct {
	mu       sync.Mutex
	items    []model.Attempt
	failNext error
}

func (f *fakeAttempts) all() []model.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Attempt, len(f.items))
	copy(out, f.items)
	return out
}

func (f *fakeAttempts) Create(_ context.Context, _ db.Transaction, attempt *model.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	if attempt.Error != (attempt.ErrorKind != nil) {
		return errors.New("error kind must be set exactly for failed attempts")
	}
	for _, a := range f.items {
		if a.SessionID == attempt.SessionID && a.Ordinal == attempt.Ordinal {
			return repository.ErrDuplicateAttempt
		}
	}
	f.items = append(f.items, *attempt)
	return nil
}

func (f *fakeAttempts) ListBySession(_ context.Context, _ db.Transaction, sessionID string) ([]model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Attempt
	for _, a := range f.items {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (f *fakeAttempts) List(_ context.Context, filter repository.AttemptFilter) ([]model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Attempt
	for _, a := range f.items {
		if filter.ActivityID != "" && a.ActivityID != filter.ActivityID {
			continue
		}
		if filter.StudentID != "" && a.StudentID != filter.StudentID {
			continue
		}
		if filter.SessionID != "" && a.SessionID != filter.SessionID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAttempts) TopErrorKinds(_ context.Context, scope repository.KindScope, limit int) ([]model.KindCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int64)
	for _, a := range f.items {
		if a.ErrorKind == nil {
			continue
		}
		if scope.SessionID != "" && a.SessionID != scope.SessionID {
			continue
		}
		if scope.StudentID != "" && a.StudentID != scope.StudentID {
			continue
		}
		counts[a.ErrorKind.String()]++
	}
	var out []model.KindCount
	for k, n := range counts {
		out = append(out, model.KindCount{Kind: kindOf(k), Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAttempts) Invalidate(context.Context, string) error { return nil }

// fakeDatabase runs transactions without a backing store.
type fakeDatabase struct {
	mu           sync.Mutex
	transactions int
}

func (f *fakeDatabase) GetContext(context.Context, interface{}, string, ...interface{}) error {
	return errors.New("not implemented")
}

func (f *fakeDatabase) SelectContext(context.Context, interface{}, string, ...interface{}) error {
	return errors.New("not implemented")
}

func (f *fakeDatabase) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeDatabase) Rebind(query string) string { return query }

func (f *fakeDatabase) Transaction(_ context.Context, fn func(tx db.Transaction) error) error {
	f.mu.Lock()
	f.transactions++
	f.mu.Unlock()
	return fn(nil)
}

func (f *fakeDatabase) Ping(context.Context) error { return nil }
func (f *fakeDatabase) Close() error               { return nil }
func (f *fakeDatabase) DriverName() string         { return "fake" }

type fakeExecutor struct {
	mu     sync.Mutex
	calls  int
	result func(source string, lang sandbox.Language) (sandbox.ExecutionResult, error)
}

func (f *fakeExecutor) Execute(_ context.Context, source string, lang sandbox.Language) (sandbox.ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.result(source, lang)
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu       sync.Mutex
	messages map[string][]*mq.Message
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, message *mq.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.messages == nil {
		f.messages = make(map[string][]*mq.Message)
	}
	f.messages[topic] = append(f.messages[topic], message)
	return nil
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeStorage) EnsureBucket(context.Context, string) error { return nil }

func (f *fakeStorage) PutObject(_ context.Context, bucket, key string, reader io.Reader, _ int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = data
	f.types[bucket+"/"+key] = contentType
	return nil
}

func (f *fakeStorage) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) StatObject(_ context.Context, bucket, key string) (storage.ObjectStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return storage.ObjectStat{}, fmt.Errorf("object %s not found", key)
	}
	return storage.ObjectStat{SizeBytes: int64(len(data)), ContentType: f.types[bucket+"/"+key]}, nil
}
