package report

import (
	"context"
	"testing"

	"github.com/relay-ci/revpipe/internal/classify"
	"github.com/relay-ci/revpipe/internal/domain"
)

func TestSkipReporter_FiltersNamedAnalyzers(t *testing.T) {
	inner := &stubReporter{kind: "backend"}
	skipper := &SkipReporter{Reporter: inner, Skip: []string{"clang-format"}}

	issues := []classify.Classified{
		{Issue: domain.Issue{Analyzer: "clang-format"}},
		{Issue: domain.Issue{Analyzer: "clang-tidy"}},
	}

	if err := skipper.Report(context.Background(), RunContext{}, issues); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if len(inner.got) != 1 || inner.got[0].Issue.Analyzer != "clang-tidy" {
		t.Errorf("expected only clang-tidy to reach the inner reporter, got %+v", inner.got)
	}
}

func TestSkipReporter_NoSkipListPassesThrough(t *testing.T) {
	inner := &stubReporter{kind: "email"}
	skipper := &SkipReporter{Reporter: inner}

	issues := []classify.Classified{{Issue: domain.Issue{Analyzer: "mozlint"}}}

	if err := skipper.Report(context.Background(), RunContext{}, issues); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if len(inner.got) != 1 {
		t.Errorf("expected the issue to pass through unfiltered, got %+v", inner.got)
	}
}

func TestSkipReporter_KindDelegatesToInner(t *testing.T) {
	inner := &stubReporter{kind: "build_error"}
	skipper := &SkipReporter{Reporter: inner}
	if skipper.Kind() != "build_error" {
		t.Errorf("Kind() = %q, want %q", skipper.Kind(), "build_error")
	}
}
