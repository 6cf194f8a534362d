package main

import (
	"errors"
	"testing"

	"github.com/relay-ci/revpipe/internal/config"
	"github.com/relay-ci/revpipe/internal/domain"
	"github.com/relay-ci/revpipe/internal/ingest"
)

func TestFindRepository(t *testing.T) {
	repos := []config.RepositoryConfig{
		{Slug: "mozilla-central"},
		{Slug: "try"},
	}

	t.Run("exact slug match", func(t *testing.T) {
		got, ok := findRepository(repos, "try")
		if !ok || got.Slug != "try" {
			t.Fatalf("findRepository() = %+v, %v", got, ok)
		}
	})

	t.Run("unknown slug", func(t *testing.T) {
		if _, ok := findRepository(repos, "nonexistent"); ok {
			t.Fatalf("findRepository() unexpectedly matched")
		}
	})

	t.Run("empty slug falls back to the sole configured repository", func(t *testing.T) {
		got, ok := findRepository([]config.RepositoryConfig{{Slug: "solo"}}, "")
		if !ok || got.Slug != "solo" {
			t.Fatalf("findRepository() = %+v, %v", got, ok)
		}
	})

	t.Run("empty slug with multiple repositories is ambiguous", func(t *testing.T) {
		if _, ok := findRepository(repos, ""); ok {
			t.Fatalf("findRepository() unexpectedly matched with an ambiguous empty slug")
		}
	})
}

func TestBuildPlatformClient(t *testing.T) {
	t.Run("pull request provider needs an owner/repo slug", func(t *testing.T) {
		rc := config.ReporterConfig{URL: "https://example.test", Credentials: "token"}
		rev := domain.Revision{ProviderName: domain.ProviderPullRequest, BaseRepository: "mozilla/gecko-dev"}

		client, err := buildPlatformClient(rc, rev, nil)
		if err != nil {
			t.Fatalf("buildPlatformClient() error = %v", err)
		}
		if client == nil {
			t.Fatal("buildPlatformClient() returned a nil client")
		}
	})

	t.Run("pull request provider rejects a bare slug", func(t *testing.T) {
		rc := config.ReporterConfig{URL: "https://example.test"}
		rev := domain.Revision{ProviderName: domain.ProviderPullRequest, BaseRepository: "gecko-dev"}

		if _, err := buildPlatformClient(rc, rev, nil); err == nil {
			t.Fatal("buildPlatformClient() expected an error for a slug with no owner")
		}
	})

	t.Run("code review provider needs only an API root", func(t *testing.T) {
		rc := config.ReporterConfig{URL: "https://example.test"}
		rev := domain.Revision{ProviderName: domain.ProviderCodeReview, BaseRepository: "mozilla-central"}

		client, err := buildPlatformClient(rc, rev, nil)
		if err != nil {
			t.Fatalf("buildPlatformClient() error = %v", err)
		}
		if client == nil {
			t.Fatal("buildPlatformClient() returned a nil client")
		}
	})
}

func TestBuildReporters(t *testing.T) {
	cfg := config.Config{
		Reporters: []config.ReporterConfig{
			{Kind: "backend"},
			{Kind: "email", Emails: []string{"a@example.test"}},
			{Kind: "build_error"},
			{Kind: "backend", AnalyzersSkipped: []string{"clang-format"}},
		},
	}

	reporters, err := buildReporters(cfg, nil, domain.Revision{}, nil)
	if err != nil {
		t.Fatalf("buildReporters() error = %v", err)
	}
	if len(reporters) != len(cfg.Reporters) {
		t.Fatalf("buildReporters() returned %d reporters, want %d", len(reporters), len(cfg.Reporters))
	}
}

func TestBuildReportersRejectsUnknownKind(t *testing.T) {
	cfg := config.Config{Reporters: []config.ReporterConfig{{Kind: "carrier-pigeon"}}}
	if _, err := buildReporters(cfg, nil, domain.Revision{}, nil); err == nil {
		t.Fatal("buildReporters() expected an error for an unknown reporter kind")
	}
}

func TestParseDeadline(t *testing.T) {
	t.Run("empty string defaults to two hours", func(t *testing.T) {
		d, err := parseDeadline("")
		if err != nil {
			t.Fatalf("parseDeadline() error = %v", err)
		}
		if d.Hours() != 2 {
			t.Fatalf("parseDeadline() = %v, want 2h", d)
		}
	})

	t.Run("invalid duration is rejected", func(t *testing.T) {
		if _, err := parseDeadline("not-a-duration"); err == nil {
			t.Fatal("parseDeadline() expected an error")
		}
	})
}

func TestDirOfAndBaseNameNoExt(t *testing.T) {
	if got := dirOf("/etc/revpipe/config.yml"); got != "/etc/revpipe" {
		t.Errorf("dirOf() = %q, want %q", got, "/etc/revpipe")
	}
	if got := dirOf("config.yml"); got != "." {
		t.Errorf("dirOf() = %q, want %q", got, ".")
	}
	if got := baseNameNoExt("/etc/revpipe/config.yml"); got != "config" {
		t.Errorf("baseNameNoExt() = %q, want %q", got, "config")
	}
}

func TestExitCodeFor(t *testing.T) {
	ctx := t.Context()

	t.Run("ingest fatal maps to the ingestion exit code", func(t *testing.T) {
		err := &ingest.IngestFatal{Cause: errors.New("task queue unreachable")}
		if got := exitCodeFor(ctx, err); got != exitIngestionError {
			t.Errorf("exitCodeFor() = %d, want %d", got, exitIngestionError)
		}
	})

	t.Run("deadline sentinel maps to the deadline exit code", func(t *testing.T) {
		if got := exitCodeFor(ctx, errDeadline); got != exitDeadlineExceeded {
			t.Errorf("exitCodeFor() = %d, want %d", got, exitDeadlineExceeded)
		}
	})

	t.Run("unrecognized error maps to the config exit code", func(t *testing.T) {
		if got := exitCodeFor(ctx, errors.New("boom")); got != exitConfigError {
			t.Errorf("exitCodeFor() = %d, want %d", got, exitConfigError)
		}
	})
}
