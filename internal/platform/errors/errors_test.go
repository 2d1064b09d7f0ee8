package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := WrapWithMetadata(CodeConnection, "load budget", map[string]string{MetaBudgetID: "b1"}, stderrors.New("dial tcp"))
	wrapped := fmt.Errorf("ensure budget: %w", err)

	if !stderrors.Is(wrapped, ErrConnection) {
		t.Fatal("expected wrapped error to match connection sentinel")
	}
	if stderrors.Is(wrapped, ErrConfig) {
		t.Fatal("did not expect config sentinel to match")
	}
	if CodeOf(wrapped) != CodeConnection {
		t.Fatalf("expected connection code, got %s", CodeOf(wrapped))
	}
	if CodeOf(stderrors.New("plain")) != CodeUnknown {
		t.Fatal("expected unknown code for plain errors")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := Wrap(CodeStorage, "set context", stderrors.New("connection reset"))
	if err.Error() != "set context: connection reset" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if New(CodeNotFound, "account not found").Error() != "account not found" {
		t.Fatal("expected bare message without cause")
	}
}

func TestNewReport(t *testing.T) {
	t.Run("domain error", func(t *testing.T) {
		err := WrapWithMetadata(CodeConnection, "load budget failed", map[string]string{MetaBudgetID: "b9"}, stderrors.New("timeout"))
		report := NewReport("load_budget", err)
		if report.Code != CodeConnection {
			t.Fatalf("expected connection code, got %s", report.Code)
		}
		if report.Message != "load budget failed" || report.Cause != "timeout" {
			t.Fatalf("unexpected message/cause %q/%q", report.Message, report.Cause)
		}
		if report.Metadata[MetaBudgetID] != "b9" {
			t.Fatalf("expected budget metadata, got %v", report.Metadata)
		}
		if !report.Retryable {
			t.Fatal("expected connection errors to be retryable")
		}

		var decoded map[string]any
		if err := json.Unmarshal([]byte(report.JSON()), &decoded); err != nil {
			t.Fatalf("decode report: %v", err)
		}
		if decoded["operation"] != "load_budget" {
			t.Fatalf("expected operation in payload, got %v", decoded["operation"])
		}
	})

	t.Run("plain error", func(t *testing.T) {
		report := NewReport("get_accounts", stderrors.New("boom"))
		if report.Code != CodeUnknown || report.Message != "boom" {
			t.Fatalf("unexpected report %+v", report)
		}
		if report.Retryable {
			t.Fatal("unknown errors are not retryable")
		}
	})
}
