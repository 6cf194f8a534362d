package report

import (
	"context"
	"errors"
	"testing"

	"github.com/relay-ci/revpipe/internal/classify"
)

type stubReporter struct {
	kind string
	err  error
	got  []classify.Classified
}

func (s *stubReporter) Kind() string { return s.kind }

func (s *stubReporter) Report(ctx context.Context, rc RunContext, issues []classify.Classified) error {
	s.got = issues
	return s.err
}

func TestDispatch_BackendFailureAbortsRun(t *testing.T) {
	backend := &stubReporter{kind: "backend", err: errors.New("disk full")}
	platform := &stubReporter{kind: "platform"}

	outcome, err := Dispatch(context.Background(), []Reporter{backend, platform}, RunContext{}, nil)

	if err == nil {
		t.Fatal("Dispatch() expected a fatal error when the backend reporter fails")
	}
	if len(outcome.Succeeded) != 0 {
		t.Errorf("expected no succeeded reporters, got %v", outcome.Succeeded)
	}
	if platform.got != nil {
		t.Error("a reporter after a failed backend reporter must not run")
	}
}

func TestDispatch_NonBackendFailureIsNonFatal(t *testing.T) {
	backend := &stubReporter{kind: "backend"}
	email := &stubReporter{kind: "email", err: errors.New("smtp refused")}
	platform := &stubReporter{kind: "platform"}

	outcome, err := Dispatch(context.Background(), []Reporter{backend, email, platform}, RunContext{}, nil)

	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
	if !outcome.PartialSuccess() {
		t.Error("expected PartialSuccess() = true after a non-backend failure")
	}
	if len(outcome.Failed) != 1 || outcome.Failed[0].Kind != "email" {
		t.Errorf("expected email to be recorded as failed, got %+v", outcome.Failed)
	}
	if len(outcome.Succeeded) != 2 {
		t.Errorf("expected backend and platform to both succeed, got %v", outcome.Succeeded)
	}
}

func TestDispatch_BackendReorderedToFrontRegardlessOfConfigOrder(t *testing.T) {
	platform := &stubReporter{kind: "platform"}
	backend := &stubReporter{kind: "backend"}
	email := &stubReporter{kind: "email"}

	// Configuration lists platform before backend; Dispatch must still run
	// backend first so platform's happens-before guarantee holds.
	outcome, err := Dispatch(context.Background(), []Reporter{platform, backend, email}, RunContext{}, nil)

	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
	if len(outcome.Succeeded) != 3 || outcome.Succeeded[0] != "backend" {
		t.Errorf("expected backend to run (and succeed) first, got %v", outcome.Succeeded)
	}
}

func TestDispatch_BackendFailureAbortsRunEvenWhenNotFirstInConfig(t *testing.T) {
	platform := &stubReporter{kind: "platform"}
	backend := &stubReporter{kind: "backend", err: errors.New("disk full")}

	outcome, err := Dispatch(context.Background(), []Reporter{platform, backend}, RunContext{}, nil)

	if err == nil {
		t.Fatal("Dispatch() expected a fatal error when the backend reporter fails")
	}
	if len(outcome.Succeeded) != 0 {
		t.Errorf("expected no succeeded reporters, got %v", outcome.Succeeded)
	}
	if platform.got != nil {
		t.Error("platform must not run before a failing backend reporter, even if listed first in config")
	}
}

func TestDispatch_AlreadyPublishedShortCircuitsWithoutFailure(t *testing.T) {
	platform := &stubReporter{kind: "platform", err: ErrAlreadyPublished}

	outcome, err := Dispatch(context.Background(), []Reporter{platform}, RunContext{}, nil)

	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil", err)
	}
	if len(outcome.AlreadyPublished) != 1 {
		t.Errorf("expected platform recorded as AlreadyPublished, got %+v", outcome)
	}
	if outcome.PartialSuccess() {
		t.Error("ErrAlreadyPublished must not count as a failure")
	}
}
