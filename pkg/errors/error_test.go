package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "codelab/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{SessionNotFound, "Activity session is not existing"},
		{BlockedConstruct, "Input invocations are not allowed in the script"},
		{DatabaseError, "Database operation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{BlockedConstruct, 400},
		{LanguageNotSupported, 400},
		{Unauthorized, 401},
		{StudentNotFound, 401},
		{Forbidden, 403},
		{SessionNotFound, 404},
		{ActivityNotFound, 404},
		{SubmitTooFrequently, 429},
		{ExecutorBusy, 503},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(SessionNotFound, "session %s not found", "abc")

	want := "session abc not found"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrappedErr := Wrap(originalErr, DatabaseError)

	if wrappedErr.Code != DatabaseError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, DatabaseError)
	}

	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil error", err: nil, want: Success},
		{name: "custom error", err: New(ActivityNotFound), want: ActivityNotFound},
		{name: "wrapped custom error", err: fmt.Errorf("lookup: %w", New(SessionNotFound)), want: SessionNotFound},
		{name: "standard error", err: errors.New("standard error"), want: InternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(StudentNotFound)

	if !Is(err, StudentNotFound) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, DatabaseError) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, StudentNotFound) {
		t.Error("Is() should return false for nil error")
	}
}

func TestBlockedConstructError(t *testing.T) {
	err := BlockedConstructError("c", "scanf")
	if err.Code != BlockedConstruct {
		t.Fatalf("unexpected code: %v", err.Code)
	}
	if err.Details["construct"] != "scanf" {
		t.Fatalf("construct detail not set: %v", err.Details)
	}
	if err.Details["language"] != "c" {
		t.Fatalf("language detail not set: %v", err.Details)
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("source_code", "is required")
	if err.Code != ValidationFailed {
		t.Fatalf("ValidationError should use ValidationFailed code")
	}
	if err.Error() != "source_code is required" {
		t.Fatalf("unexpected message: %q", err.Error())
	}
	if err.Details["field"] != "source_code" {
		t.Fatalf("field detail not set")
	}
}
