// Command cr is the pipeline harness entrypoint of spec §6: a thin,
// out-of-core-scope CLI that loads a configuration document, reads the
// build identity off the environment, and launches a single orchestrator
// run. Exit codes follow §6: 0 success, 1 fatal configuration error, 2
// unrecoverable ingestion error, 3 deadline exceeded.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relay-ci/revpipe/internal/adapter/patchapplier"
	"github.com/relay-ci/revpipe/internal/backend"
	"github.com/relay-ci/revpipe/internal/backend/api"
	"github.com/relay-ci/revpipe/internal/backend/lock"
	"github.com/relay-ci/revpipe/internal/backend/postgres"
	"github.com/relay-ci/revpipe/internal/backend/sqlite"
	"github.com/relay-ci/revpipe/internal/config"
	"github.com/relay-ci/revpipe/internal/domain"
	"github.com/relay-ci/revpipe/internal/ingest"
	"github.com/relay-ci/revpipe/internal/observability"
	"github.com/relay-ci/revpipe/internal/orchestrator"
	"github.com/relay-ci/revpipe/internal/report"
	"github.com/relay-ci/revpipe/internal/report/platform"
	"github.com/relay-ci/revpipe/internal/transport"
	"github.com/relay-ci/revpipe/internal/version"
)

const (
	exitOK               = 0
	exitConfigError      = 1
	exitIngestionError   = 2
	exitDeadlineExceeded = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var configPath string
	var secretName string

	root := &cobra.Command{
		Use:     "cr",
		Short:   "Publish static-analysis results for one CI build",
		Version: version.String(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return launch(cmd.Context(), configPath, secretName)
		},
	}
	root.Flags().StringVar(&configPath, "configuration", "", "path to the configuration document")
	root.Flags().StringVar(&secretName, "taskcluster-secret", "", "name of a remote secret (accepted; no secret is fetched or merged)")

	exitCode := exitOK
	root.SilenceUsage = true
	if err := root.ExecuteContext(ctx); err != nil {
		exitCode = exitCodeFor(ctx, err)
		fmt.Fprintln(os.Stderr, err)
	}
	return exitCode
}

func exitCodeFor(ctx context.Context, err error) int {
	var ingestFatal *ingest.IngestFatal
	switch {
	case ctx.Err() != nil:
		return exitDeadlineExceeded
	case errors.As(err, &ingestFatal):
		return exitIngestionError
	case errors.Is(err, errDeadline):
		return exitDeadlineExceeded
	default:
		return exitConfigError
	}
}

var errDeadline = errors.New("run deadline exceeded")

// launch loads the configuration, resolves the build identity off the
// environment, wires the pipeline's collaborators, and runs one pipeline
// pass. Secrets retrieval (--taskcluster-secret) and build-notification
// translation are external collaborators per §1; this harness only reads
// what they are documented to have already placed in the environment.
func launch(ctx context.Context, configPath, secretName string) error {
	cfg, err := loadConfig(configPath, secretName)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	req, err := resolveRunRequest(cfg)
	if err != nil {
		return fmt.Errorf("resolve run request: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format, cfg.AppChannel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.NewMetrics(registry)
		serveMetrics(cfg.Observability.Metrics.Addr, registry, logger)
	}

	if cfg.Observability.Tracing.Enabled {
		tp := observability.NewTracerProvider(cfg.AppChannel)
		defer func() {
			if serr := tp.Shutdown(context.Background()); serr != nil {
				logger.Warn("tracer shutdown failed", zap.Error(serr))
			}
		}()
	}

	store, closeStore, err := openStore(ctx, cfg.Backend)
	if err != nil {
		return fmt.Errorf("open backend store: %w", err)
	}
	defer closeStore()

	if cfg.Backend.URL != "" {
		// Serves this process's own backend.Store over the read-only API of
		// §6, for deployments that run the pipeline and the backend API in
		// the same binary rather than pointing the pipeline at a separate
		// backend service.
		go serveBackendAPI(cfg.Backend, store, logger)
	}

	reporters, err := buildReporters(cfg, store, req.Revision, metrics)
	if err != nil {
		return fmt.Errorf("build reporters: %w", err)
	}

	applier := patchapplier.NewApplier(repositoryCheckoutDir(req.Repository))

	deadline, err := parseDeadline(cfg.Deadline)
	if err != nil {
		return fmt.Errorf("parse deadline: %w", err)
	}

	var revisionLock *lock.RevisionLock
	if cfg.Lock.Enabled {
		revisionLock = lock.NewRevisionLock(cfg.Lock.Addr, 0)
	}

	o := orchestrator.New(orchestrator.Deps{
		Ingest:              ingest.NewClient(cfg.Ingestion.BaseURL, nil),
		PatchApplier:        applier,
		Store:               store,
		Reporters:           reporters,
		Lock:                revisionLock,
		Logger:              logger,
		Metrics:             metrics,
		AppChannel:          cfg.AppChannel,
		Concurrency:         cfg.Ingestion.Concurrency,
		ZeroCoverageEnabled: cfg.ZeroCoverageEnabled,
		BeforeAfterRatio:    cfg.BeforeAfterRatio,
		Deadline:            deadline,
	})

	result, err := o.Run(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return errDeadline
		}
		return err
	}

	logger.Info("run complete",
		zap.String("run_id", result.RunID),
		zap.Int64("diff_id", result.DiffID),
		zap.Int("issues", len(result.Issues)))
	return nil
}

// loadConfig loads the base configuration document, with REVPIPE_-prefixed
// environment variables overriding it through config.Load's environment
// binding. Remote secret retrieval is an external collaborator (§1):
// secretName is accepted, but no secret document is fetched or merged.
func loadConfig(configPath, secretName string) (config.Config, error) {
	opts := config.LoaderOptions{FileName: "revpipe", EnvPrefix: "REVPIPE"}
	if configPath != "" {
		opts.ConfigPaths = []string{dirOf(configPath)}
		opts.FileName = baseNameNoExt(configPath)
	}
	cfg, err := config.Load(opts)
	if err != nil {
		return config.Config{}, err
	}
	if secretName != "" {
		// Secrets retrieval itself is out of scope (§1); a deployment wires
		// its own loader ahead of this call and this is where it would be
		// merged in via config.Merge.
		_ = secretName
	}
	return cfg, nil
}

// resolveRunRequest builds the orchestrator's RunRequest from the
// environment. Per §6 the harness's primary inputs are TRY_TASK_ID and
// TRY_TASK_GROUP_ID; everything else needed to identify the repository,
// revision, and commit pair under review is expected to already be in the
// environment, placed there by the notification-translating daemon named
// in §1 as an external collaborator.
func resolveRunRequest(cfg config.Config) (orchestrator.RunRequest, error) {
	taskGroupID := os.Getenv("TRY_TASK_GROUP_ID")
	reviewTaskID := os.Getenv("TRY_TASK_ID")
	if taskGroupID == "" || reviewTaskID == "" {
		return orchestrator.RunRequest{}, errors.New("TRY_TASK_GROUP_ID and TRY_TASK_ID are required")
	}

	repoSlug := os.Getenv("TRY_REPOSITORY")
	repo, ok := findRepository(cfg.Repositories, repoSlug)
	if !ok {
		return orchestrator.RunRequest{}, fmt.Errorf("repository %q not present in configuration", repoSlug)
	}

	provider := domain.ProviderCodeReview
	if os.Getenv("TRY_REVISION_PROVIDER") == string(domain.ProviderPullRequest) {
		provider = domain.ProviderPullRequest
	}

	rev := domain.Revision{
		ProviderID:     os.Getenv("TRY_REVISION_ID"),
		ProviderName:   provider,
		Title:          os.Getenv("TRY_REVISION_TITLE"),
		BugID:          os.Getenv("TRY_REVISION_BUG_ID"),
		BaseRepository: repo.Slug,
		Author:         os.Getenv("TRY_REVISION_AUTHOR"),
	}
	if rev.ProviderID == "" {
		return orchestrator.RunRequest{}, errors.New("TRY_REVISION_ID is required")
	}

	return orchestrator.RunRequest{
		TaskGroupID:         taskGroupID,
		ReviewTaskID:        reviewTaskID,
		Repository:          domain.Repository{Slug: repo.Slug, URL: repo.URL, Kind: "hg"},
		Revision:            rev,
		BaseCommit:          os.Getenv("TRY_BASE_COMMIT"),
		HeadCommit:          os.Getenv("TRY_HEAD_COMMIT"),
		BaselineTaskGroupID: os.Getenv("TRY_BASELINE_TASK_GROUP_ID"),
	}, nil
}

func findRepository(repos []config.RepositoryConfig, slug string) (config.RepositoryConfig, bool) {
	if slug == "" && len(repos) == 1 {
		return repos[0], true
	}
	for _, r := range repos {
		if r.Slug == slug {
			return r, true
		}
	}
	return config.RepositoryConfig{}, false
}

func repositoryCheckoutDir(repo domain.Repository) string {
	if dir := os.Getenv("TRY_REPOSITORY_DIR"); dir != "" {
		return dir
	}
	return "."
}

func openStore(ctx context.Context, cfg config.BackendConfig) (backend.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		path := cfg.DSN
		if path == "" {
			path = "revpipe.db"
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
}

func buildReporters(cfg config.Config, store backend.Store, rev domain.Revision, metrics *observability.Metrics) ([]report.Reporter, error) {
	var reporters []report.Reporter
	for _, rc := range cfg.Reporters {
		var r report.Reporter
		switch rc.Kind {
		case "backend":
			r = &report.BackendReporter{Store: store}
		case "platform":
			client, err := buildPlatformClient(rc, rev, metrics)
			if err != nil {
				return nil, err
			}
			r = &report.PlatformReporter{Name: "platform", Client: client}
		case "email":
			r = &report.EmailReporter{Mailer: defaultMailer(rc), Addresses: rc.Emails}
		case "build_error":
			r = &report.BuildErrorReporter{Mailer: defaultMailer(rc)}
		default:
			return nil, fmt.Errorf("unknown reporter kind %q", rc.Kind)
		}
		if len(rc.AnalyzersSkipped) > 0 {
			r = &report.SkipReporter{Reporter: r, Skip: rc.AnalyzersSkipped}
		}
		reporters = append(reporters, r)
	}
	return reporters, nil
}

// buildPlatformClient selects the concrete platform.Client by the
// revision's provider, per §9's design note: the publishability rule is
// shared, but a pull-request-style platform needs an owner/repo pair
// (taken from the "owner/repo" shape of the repository slug) where a
// code-review-style platform just needs its API root.
func buildPlatformClient(rc config.ReporterConfig, rev domain.Revision, metrics *observability.Metrics) (platform.Client, error) {
	breaker := platformBreaker(metrics)
	if rev.ProviderName == domain.ProviderPullRequest {
		owner, repoName, ok := strings.Cut(rev.BaseRepository, "/")
		if !ok {
			return nil, fmt.Errorf("pull-request platform needs an owner/repo slug, got %q", rev.BaseRepository)
		}
		client := platform.NewPullRequestClient(rc.URL, rc.Credentials, owner, repoName)
		client.Breaker = breaker
		return client, nil
	}
	client := platform.NewCodeReviewClient(rc.URL, rc.Credentials)
	client.Breaker = breaker
	return client, nil
}

// platformBreaker builds a per-host circuit breaker for the platform
// client, feeding state transitions into the circuit_breaker_trips_total
// metric so a sustained platform outage is visible without reading logs.
func platformBreaker(metrics *observability.Metrics) *transport.BreakerGroup {
	return transport.NewBreakerGroup(func(host string, from, to gobreaker.State) {
		if metrics != nil {
			metrics.CircuitBreakerTrips.WithLabelValues(host, to.String()).Inc()
		}
	})
}

func defaultMailer(rc config.ReporterConfig) report.Mailer {
	return &report.SMTPMailer{Addr: rc.URL, From: "revpipe@localhost"}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) {
	if addr == "" {
		addr = ":9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}

func serveBackendAPI(cfg config.BackendConfig, store backend.Store, logger *zap.Logger) {
	addr := cfg.URL
	if addr == "" {
		addr = ":8080"
	}
	if err := http.ListenAndServe(addr, api.NewRouter(store)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("backend api server stopped", zap.Error(err))
	}
}

func parseDeadline(s string) (time.Duration, error) {
	if s == "" {
		return 2 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

func baseNameNoExt(path string) string {
	base := path
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndexByte(base, '.'); idx >= 0 {
		base = base[:idx]
	}
	return base
}
