package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultLogLevel          = "info"
	defaultLogFormat         = "line"
	defaultLogMaxSizeMB      = 100
	defaultLogMaxBackups     = 5
	defaultLogMaxAgeDays     = 14
	defaultServerListen      = ":9612"
	defaultServerPath        = "/api/prometheus/metrics"
	defaultScrapeTimeout     = 60 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second
	defaultSonarTimeout      = 10 * time.Second
	defaultSonarPageSize     = 500
	defaultSonarConcurrency  = 4
	maxSonarPageSize         = 500
	maxSonarConcurrency      = 64
	defaultSelfPath          = "/metrics"
	defaultPprofListen       = "127.0.0.1:6060"
)

// Duration wraps time.Duration for TOML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// Config represents the root exporter configuration.
// Params: TOML document sections.
// Returns: validated runtime configuration.
type Config struct {
	Log    LogConfig    `toml:"log"`
	Pprof  PprofConfig  `toml:"pprof"`
	Server ServerConfig `toml:"server"`
	Sonar  SonarConfig  `toml:"sonar"`
	Export ExportConfig `toml:"export"`
	Self   SelfConfig   `toml:"self"`
	Health HealthConfig `toml:"health"`
}

// PprofConfig defines optional runtime pprof HTTP endpoint.
// Params: enabled flag and listen address in host:port format.
// Returns: pprof runtime settings.
type PprofConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// LogConfig contains console/file logging configuration.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from TOML; rotation fields apply to the file sink only.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled    bool   `toml:"enabled"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// ServerConfig defines the scrape HTTP endpoint.
// Params: listen address, metrics path and timeouts.
// Returns: HTTP server settings.
type ServerConfig struct {
	Listen            string   `toml:"listen"`
	Path              string   `toml:"path"`
	ScrapeTimeout     Duration `toml:"scrape_timeout"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
}

// SonarConfig defines the upstream SonarQube server and traversal limits.
// Params: base URL, request timeout, project page size, fan-out and project filters.
// Returns: upstream client settings.
type SonarConfig struct {
	URL             string   `toml:"url"`
	Timeout         Duration `toml:"timeout"`
	PageSize        int      `toml:"page_size"`
	Concurrency     int      `toml:"concurrency"`
	IncludeProjects []string `toml:"include_projects"`
	ExcludeProjects []string `toml:"exclude_projects"`
}

// ExportConfig points at the file holding prometheus.export.* switches.
// Params: settings path; empty means the main config file.
// Returns: enablement source settings.
type ExportConfig struct {
	Settings string `toml:"settings"`
}

// SelfConfig enables the exporter's own metrics endpoint.
// Params: enabled flag and HTTP path.
// Returns: self metrics settings.
type SelfConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// HealthConfig enables the gRPC health service.
// Params: listen address; empty disables the service.
// Returns: health settings.
type HealthConfig struct {
	GRPCListen string `toml:"grpc_listen"`
}

// Load reads, expands, validates, and returns config from path.
// Params: path to TOML config file or directory with *.toml files.
// Returns: validated config pointer or error.
func Load(path string) (*Config, error) {
	raw, isDir, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("decode TOML %q: %w", path, err)
	}

	if err := cfg.applyDefaults(path, isDir); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readConfigSource reads one TOML file or concatenates *.toml files from directory.
// Params: path to config file or directory.
// Returns: raw TOML bytes, directory flag or error.
func readConfigSource(path string) ([]byte, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, false, fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, false, fmt.Errorf("read config %q: %w", path, readErr)
		}
		return raw, false, nil
	}

	raw, err := readConfigDir(path)
	return raw, true, err
}

// readConfigDir concatenates config snippets from one directory.
// Params: path to directory that contains *.toml files.
// Returns: concatenated TOML content or error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer; sourcePath config location; sourceIsDir marks directory configs.
// Returns: error when a default cannot be derived.
func (c *Config) applyDefaults(sourcePath string, sourceIsDir bool) error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")
	if c.Log.File.MaxSizeMB == 0 {
		c.Log.File.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Log.File.MaxBackups == 0 {
		c.Log.File.MaxBackups = defaultLogMaxBackups
	}
	if c.Log.File.MaxAgeDays == 0 {
		c.Log.File.MaxAgeDays = defaultLogMaxAgeDays
	}

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if strings.TrimSpace(c.Server.Listen) == "" {
		c.Server.Listen = defaultServerListen
	}
	if strings.TrimSpace(c.Server.Path) == "" {
		c.Server.Path = defaultServerPath
	}
	if c.Server.ScrapeTimeout.Duration == 0 {
		c.Server.ScrapeTimeout.Duration = defaultScrapeTimeout
	}
	if c.Server.ReadHeaderTimeout.Duration == 0 {
		c.Server.ReadHeaderTimeout.Duration = defaultReadHeaderTimeout
	}

	c.Sonar.URL = strings.TrimSpace(c.Sonar.URL)
	if c.Sonar.Timeout.Duration == 0 {
		c.Sonar.Timeout.Duration = defaultSonarTimeout
	}
	if c.Sonar.PageSize == 0 {
		c.Sonar.PageSize = defaultSonarPageSize
	}
	if c.Sonar.Concurrency == 0 {
		c.Sonar.Concurrency = defaultSonarConcurrency
	}

	if strings.TrimSpace(c.Export.Settings) == "" && !sourceIsDir {
		abs, err := filepath.Abs(sourcePath)
		if err != nil {
			return fmt.Errorf("resolve config path %q: %w", sourcePath, err)
		}
		c.Export.Settings = abs
	}

	if c.Self.Enabled && strings.TrimSpace(c.Self.Path) == "" {
		c.Self.Path = defaultSelfPath
	}
	if c.Pprof.Enabled && strings.TrimSpace(c.Pprof.Listen) == "" {
		c.Pprof.Listen = defaultPprofListen
	}

	return nil
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	if err := validatePprofConfig("pprof", c.Pprof); err != nil {
		return err
	}
	if err := validateServerConfig("server", c.Server); err != nil {
		return err
	}
	if err := validateSonarConfig("sonar", c.Sonar); err != nil {
		return err
	}

	if strings.TrimSpace(c.Export.Settings) == "" {
		return fmt.Errorf("export.settings is required when config is a directory")
	}

	if c.Self.Enabled {
		if err := validatePath("self.path", c.Self.Path); err != nil {
			return err
		}
		if c.Self.Path == c.Server.Path {
			return fmt.Errorf("self.path must differ from server.path")
		}
	}

	if strings.TrimSpace(c.Health.GRPCListen) != "" {
		if err := validateListen("health.grpc_listen", c.Health.GRPCListen); err != nil {
			return err
		}
	}

	return nil
}

// validateServerConfig validates the scrape endpoint section.
// Params: path is config path prefix; cfg server section.
// Returns: validation error or nil.
func validateServerConfig(path string, cfg ServerConfig) error {
	if err := validateListen(path+".listen", cfg.Listen); err != nil {
		return err
	}
	if err := validatePath(path+".path", cfg.Path); err != nil {
		return err
	}
	if cfg.ScrapeTimeout.Duration <= 0 {
		return fmt.Errorf("%s.scrape_timeout must be > 0", path)
	}
	if cfg.ReadHeaderTimeout.Duration <= 0 {
		return fmt.Errorf("%s.read_header_timeout must be > 0", path)
	}
	return nil
}

// validateSonarConfig validates upstream settings.
// Params: path is config path prefix; cfg sonar section.
// Returns: validation error or nil.
func validateSonarConfig(path string, cfg SonarConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("%s.url is required", path)
	}
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", path, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s.url must use http or https", path)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s.url must include a host", path)
	}
	if cfg.Timeout.Duration <= 0 {
		return fmt.Errorf("%s.timeout must be > 0", path)
	}
	if cfg.PageSize < 1 || cfg.PageSize > maxSonarPageSize {
		return fmt.Errorf("%s.page_size must be within 1..%d", path, maxSonarPageSize)
	}
	if cfg.Concurrency < 1 || cfg.Concurrency > maxSonarConcurrency {
		return fmt.Errorf("%s.concurrency must be within 1..%d", path, maxSonarConcurrency)
	}
	for idx, pattern := range cfg.IncludeProjects {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%s.include_projects[%d] cannot be empty", path, idx)
		}
	}
	for idx, pattern := range cfg.ExcludeProjects {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%s.exclude_projects[%d] cannot be empty", path, idx)
		}
	}
	return nil
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", name)
	}

	if err := validateLogLevel(sink.Level); err != nil {
		return fmt.Errorf("%s.level: %w", name, err)
	}
	if err := validateLogFormat(sink.Format); err != nil {
		return fmt.Errorf("%s.format: %w", name, err)
	}
	if sink.MaxSizeMB < 0 || sink.MaxBackups < 0 || sink.MaxAgeDays < 0 {
		return fmt.Errorf("%s rotation limits cannot be negative", name)
	}

	return nil
}

// validateLogLevel validates known log levels.
// Params: level is lower-case level name.
// Returns: error when level is unsupported.
func validateLogLevel(level string) error {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "info", "warn", "error", "panic", "debug":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", level)
	}
}

// validateLogFormat validates supported sink formats.
// Params: format is lower-case format name.
// Returns: error when format is unsupported.
func validateLogFormat(format string) error {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "line", "json":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", format)
	}
}

// validatePprofConfig validates optional pprof endpoint settings.
// Params: path is config path prefix; cfg pprof section.
// Returns: validation error for invalid listen endpoint.
func validatePprofConfig(path string, cfg PprofConfig) error {
	if !cfg.Enabled {
		return nil
	}
	return validateListen(path+".listen", cfg.Listen)
}

// validateListen validates a host:port listen address.
// Params: fieldPath full config field path; value listen address.
// Returns: validation error or nil.
func validateListen(fieldPath string, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s cannot be empty", fieldPath)
	}
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("%s must be host:port: %w", fieldPath, err)
	}
	return nil
}

// validatePath validates an absolute HTTP route.
// Params: fieldPath full config field path; value route path.
// Returns: validation error or nil.
func validatePath(fieldPath string, value string) error {
	if !strings.HasPrefix(value, "/") {
		return fmt.Errorf("%s must start with '/'", fieldPath)
	}
	return nil
}

// lowerOrDefault returns a trimmed lower-case value or default fallback.
// Params: value to normalize; fallback value when empty.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}
