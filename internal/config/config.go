// Package config defines the pipeline's configuration record and the
// layered-merge semantics used to combine a base document with per-run
// overrides. There is no process-wide configuration singleton: a Config is
// built once by the harness and passed explicitly into each run.
package config

// Config represents the full application configuration.
type Config struct {
	AppChannel          string             `yaml:"appChannel" mapstructure:"appChannel"`
	Reporters           []ReporterConfig   `yaml:"reporters" mapstructure:"reporters"`
	Repositories        []RepositoryConfig `yaml:"repositories" mapstructure:"repositories"`
	ZeroCoverageEnabled bool               `yaml:"zeroCoverageEnabled" mapstructure:"zeroCoverageEnabled"`
	BeforeAfterRatio    float64            `yaml:"beforeAfterRatio" mapstructure:"beforeAfterRatio"`
	Deadline            string             `yaml:"deadline" mapstructure:"deadline"`

	HTTP          HTTPConfig          `yaml:"http" mapstructure:"http"`
	Ingestion     IngestionConfig     `yaml:"ingestion" mapstructure:"ingestion"`
	Backend       BackendConfig       `yaml:"backend" mapstructure:"backend"`
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Lock          LockConfig          `yaml:"lock" mapstructure:"lock"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
}

// ReporterConfig configures one entry of the `reporters` list. Kind-specific
// fields that do not apply to a kind are simply left zero.
type ReporterConfig struct {
	Kind             string   `yaml:"kind" mapstructure:"kind"` // platform, email, backend, build_error
	Emails           []string `yaml:"emails" mapstructure:"emails"`
	URL              string   `yaml:"url" mapstructure:"url"`
	Credentials      string   `yaml:"credentials" mapstructure:"credentials"`
	AnalyzersSkipped []string `yaml:"analyzersSkipped" mapstructure:"analyzersSkipped"`
}

// RepositoryConfig seeds a Repository into the backend.
type RepositoryConfig struct {
	Slug              string `yaml:"slug" mapstructure:"slug"`
	URL               string `yaml:"url" mapstructure:"url"`
	TryURL            string `yaml:"tryUrl" mapstructure:"tryUrl"`
	CheckoutMode      string `yaml:"checkoutMode" mapstructure:"checkoutMode"` // robust, batch, default
	SSHUser           string `yaml:"sshUser" mapstructure:"sshUser"`
	DecisionEnvPrefix string `yaml:"decisionEnvPrefix" mapstructure:"decisionEnvPrefix"`
}

// HTTPConfig holds global HTTP client settings shared by ingestion, the
// backend client, and the platform reporter.
type HTTPConfig struct {
	Timeout           string  `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries        int     `yaml:"maxRetries" mapstructure:"maxRetries"`
	InitialBackoff    string  `yaml:"initialBackoff" mapstructure:"initialBackoff"`
	MaxBackoff        string  `yaml:"maxBackoff" mapstructure:"maxBackoff"`
	BackoffMultiplier float64 `yaml:"backoffMultiplier" mapstructure:"backoffMultiplier"`
}

// IngestionConfig controls the bounded-parallel artifact fetch stage.
type IngestionConfig struct {
	BaseURL     string `yaml:"baseUrl" mapstructure:"baseUrl"` // CI task-queue API root
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"` // default 8
	QueueSize   int    `yaml:"queueSize" mapstructure:"queueSize"`     // default 64, parsing backpressure
}

// BackendConfig points at the backend's write API (or its in-process store,
// when the pipeline and backend run in the same binary).
type BackendConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	BearerToken string `yaml:"bearerToken" mapstructure:"bearerToken"`
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite, postgres
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
}

// StoreConfig configures the local sqlite persistence layer.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// LockConfig configures the distributed per-revision write lock.
type LockConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`   // debug, info, error
	Format  string `yaml:"format" mapstructure:"format"` // json, console
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr    string `yaml:"addr" mapstructure:"addr"`
}

// TracingConfig configures OpenTelemetry tracing. Only Enabled is read at
// launch, where it installs a local tracer provider; Endpoint and
// ServiceName are carried through Merge, but no exporter is built from them.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	ServiceName string `yaml:"serviceName" mapstructure:"serviceName"`
}

// Merge combines multiple configuration instances, prioritizing the latter
// ones. Scalars are overlay-wins-if-nonzero; slices and maps are replaced
// wholesale rather than concatenated, matching how a per-run override is
// expected to fully restate the fields it touches.
func Merge(configs ...Config) Config {
	result := Config{}
	for _, cfg := range configs {
		result = merge(result, cfg)
	}
	return result
}

func merge(base, overlay Config) Config {
	result := base

	if overlay.AppChannel != "" {
		result.AppChannel = overlay.AppChannel
	}
	if len(overlay.Reporters) > 0 {
		result.Reporters = overlay.Reporters
	}
	if len(overlay.Repositories) > 0 {
		result.Repositories = overlay.Repositories
	}
	if overlay.ZeroCoverageEnabled {
		result.ZeroCoverageEnabled = overlay.ZeroCoverageEnabled
	}
	if overlay.BeforeAfterRatio != 0 {
		result.BeforeAfterRatio = overlay.BeforeAfterRatio
	}
	if overlay.Deadline != "" {
		result.Deadline = overlay.Deadline
	}

	result.HTTP = chooseHTTP(base.HTTP, overlay.HTTP)
	result.Ingestion = chooseIngestion(base.Ingestion, overlay.Ingestion)
	result.Backend = chooseBackend(base.Backend, overlay.Backend)
	result.Store = chooseStore(base.Store, overlay.Store)
	result.Lock = chooseLock(base.Lock, overlay.Lock)
	result.Observability = chooseObservability(base.Observability, overlay.Observability)

	return result
}

func chooseHTTP(base, overlay HTTPConfig) HTTPConfig {
	if overlay.Timeout != "" || overlay.MaxRetries != 0 || overlay.InitialBackoff != "" || overlay.MaxBackoff != "" || overlay.BackoffMultiplier != 0 {
		return overlay
	}
	return base
}

func chooseIngestion(base, overlay IngestionConfig) IngestionConfig {
	if overlay.BaseURL != "" || overlay.Concurrency != 0 || overlay.QueueSize != 0 {
		return overlay
	}
	return base
}

func chooseBackend(base, overlay BackendConfig) BackendConfig {
	if overlay.URL != "" || overlay.BearerToken != "" || overlay.Driver != "" || overlay.DSN != "" {
		return overlay
	}
	return base
}

func chooseStore(base, overlay StoreConfig) StoreConfig {
	if overlay.Enabled || overlay.Path != "" {
		return overlay
	}
	return base
}

func chooseLock(base, overlay LockConfig) LockConfig {
	if overlay.Enabled || overlay.Addr != "" {
		return overlay
	}
	return base
}

func chooseObservability(base, overlay ObservabilityConfig) ObservabilityConfig {
	result := base
	if overlay.Logging.Enabled || overlay.Logging.Level != "" || overlay.Logging.Format != "" {
		result.Logging = overlay.Logging
	}
	if overlay.Metrics.Enabled || overlay.Metrics.Addr != "" {
		result.Metrics = overlay.Metrics
	}
	if overlay.Tracing.Enabled || overlay.Tracing.Endpoint != "" {
		result.Tracing = overlay.Tracing
	}
	return result
}
