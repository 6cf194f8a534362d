package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
)

// LoaderOptions describes how configuration should be discovered.
type LoaderOptions struct {
	ConfigPaths []string
	FileName    string
	EnvPrefix   string
}

// Load returns the merged configuration from files and environment
// variables. Before unmarshalling, the raw document is validated against
// the package's JSON Schema so a malformed document fails fast with a
// readable error instead of silently zero-valuing fields.
func Load(opts LoaderOptions) (Config, error) {
	v := viper.New()

	name := opts.FileName
	if name == "" {
		name = "revpipe"
	}

	configFile := locateConfigFile(name, opts.ConfigPaths)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(name)
	}

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = "REVPIPE"
	}
	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AllowEmptyEnv(true)

	setDefaults(v)

	if configFile != "" {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
		if err := validateSchema(v.AllSettings()); err != nil {
			return Config{}, fmt.Errorf("validate config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg = expandEnvVars(cfg)

	return cfg, nil
}

// validateSchema checks the raw configuration document against Schema
// before it is unmarshalled into typed fields, catching shape errors
// (wrong types, unknown reporter kinds) that a silent zero-value default
// would otherwise mask.
func validateSchema(document map[string]interface{}) error {
	schemaLoader := gojsonschema.NewGoLoader(schemaDocument())
	docLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("run schema validation: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema violations: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// expandEnvVars expands ${VAR} and $VAR syntax in configuration strings
// that are likely to hold secrets or host-specific paths.
func expandEnvVars(cfg Config) Config {
	cfg.Backend.BearerToken = expandEnvString(cfg.Backend.BearerToken)
	cfg.Backend.URL = expandEnvString(cfg.Backend.URL)
	cfg.Backend.DSN = expandEnvString(cfg.Backend.DSN)
	cfg.Store.Path = expandEnvString(cfg.Store.Path)
	cfg.Lock.Addr = expandEnvString(cfg.Lock.Addr)
	cfg.Ingestion.BaseURL = expandEnvString(cfg.Ingestion.BaseURL)

	for i, r := range cfg.Reporters {
		r.Credentials = expandEnvString(r.Credentials)
		r.URL = expandEnvString(r.URL)
		cfg.Reporters[i] = r
	}

	return cfg
}

var (
	bracedVar = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)
	bareVar   = regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`)
)

// expandEnvString replaces ${VAR} or $VAR with environment variable values,
// leaving the original text in place when the variable is unset.
func expandEnvString(s string) string {
	if s == "" {
		return s
	}

	s = bracedVar.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	s = bareVar.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[1:]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})

	return s
}

func locateConfigFile(name string, paths []string) string {
	searchPaths := append([]string{}, paths...)
	searchPaths = append(searchPaths, ".")
	for _, dir := range searchPaths {
		if dir == "" {
			continue
		}
		for _, ext := range []string{".yaml", ".yml"} {
			candidate := filepath.Join(dir, name+ext)
			info, err := os.Stat(candidate)
			if err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("appChannel", "dev")
	v.SetDefault("beforeAfterRatio", 0.0)
	v.SetDefault("zeroCoverageEnabled", false)
	v.SetDefault("deadline", "2h")

	v.SetDefault("http.maxRetries", 5)
	v.SetDefault("http.initialBackoff", "1s")
	v.SetDefault("http.maxBackoff", "60s")
	v.SetDefault("http.backoffMultiplier", 2.0)

	v.SetDefault("ingestion.concurrency", 8)
	v.SetDefault("ingestion.queueSize", 64)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", defaultStorePath())

	v.SetDefault("backend.driver", "sqlite")

	v.SetDefault("observability.logging.enabled", true)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.addr", ":9090")
	v.SetDefault("observability.tracing.serviceName", "revpipe")
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./revpipe.db"
	}
	return filepath.Join(home, ".config", "revpipe", "revpipe.db")
}
