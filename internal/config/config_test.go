package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sonar-exporter/internal/config"
)

const minimalSonar = `
[sonar]
url = "https://sonar.example.com"
`

// TestLoad_ExpandsEnvAndAppliesDefaults verifies env expansion and defaulting.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_SONAR_URL", "http://sonar.internal:9000")

	path := writeConfig(t, `
[sonar]
url = "${TEST_SONAR_URL}"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Sonar.URL != "http://sonar.internal:9000" {
		t.Fatalf("unexpected sonar.url: %q", cfg.Sonar.URL)
	}
	if !cfg.Log.Console.Enabled {
		t.Fatalf("expected console logging to be enabled by default")
	}
	if got := cfg.Server.Listen; got != ":9612" {
		t.Fatalf("unexpected server.listen default: %q", got)
	}
	if got := cfg.Server.Path; got != "/api/prometheus/metrics" {
		t.Fatalf("unexpected server.path default: %q", got)
	}
	if got := cfg.Server.ScrapeTimeout.Duration; got != 60*time.Second {
		t.Fatalf("unexpected server.scrape_timeout default: %v", got)
	}
	if got := cfg.Sonar.Timeout.Duration; got != 10*time.Second {
		t.Fatalf("unexpected sonar.timeout default: %v", got)
	}
	if got := cfg.Sonar.PageSize; got != 500 {
		t.Fatalf("unexpected sonar.page_size default: %d", got)
	}
	if got := cfg.Sonar.Concurrency; got != 4 {
		t.Fatalf("unexpected sonar.concurrency default: %d", got)
	}
	if got := cfg.Export.Settings; got != path {
		t.Fatalf("expected export.settings to default to config path, got %q", got)
	}
	if got := cfg.Log.File.MaxSizeMB; got != 100 {
		t.Fatalf("unexpected log.file.max_size_mb default: %d", got)
	}
}

// TestLoad_ParsesFullConfig verifies every section decodes.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
[log.console]
enabled = true
level = "DEBUG"
format = "json"

[log.file]
enabled = true
path = "/var/log/sonar-exporter.log"
max_size_mb = 10
max_backups = 2
max_age_days = 3
compress = true

[server]
listen = "127.0.0.1:9700"
path = "/metrics/sonar"
scrape_timeout = "30s"
read_header_timeout = "2s"

[sonar]
url = "https://sonar.example.com/"
timeout = "3s"
page_size = 100
concurrency = 8
include_projects = ["team-*"]
exclude_projects = ["team-legacy"]

[export]
settings = "/etc/sonar-exporter/export.toml"

[self]
enabled = true

[health]
grpc_listen = "127.0.0.1:9613"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Log.Console.Level != "debug" {
		t.Fatalf("expected lower-cased console level, got %q", cfg.Log.Console.Level)
	}
	if !cfg.Log.File.Compress || cfg.Log.File.MaxBackups != 2 || cfg.Log.File.MaxAgeDays != 3 {
		t.Fatalf("unexpected log.file rotation: %+v", cfg.Log.File)
	}
	if cfg.Server.ScrapeTimeout.Duration != 30*time.Second {
		t.Fatalf("unexpected scrape timeout: %v", cfg.Server.ScrapeTimeout.Duration)
	}
	if cfg.Sonar.PageSize != 100 || cfg.Sonar.Concurrency != 8 {
		t.Fatalf("unexpected sonar limits: %+v", cfg.Sonar)
	}
	if len(cfg.Sonar.IncludeProjects) != 1 || cfg.Sonar.ExcludeProjects[0] != "team-legacy" {
		t.Fatalf("unexpected project filters: %+v", cfg.Sonar)
	}
	if cfg.Export.Settings != "/etc/sonar-exporter/export.toml" {
		t.Fatalf("unexpected export.settings: %q", cfg.Export.Settings)
	}
	if !cfg.Self.Enabled || cfg.Self.Path != "/metrics" {
		t.Fatalf("unexpected self section: %+v", cfg.Self)
	}
	if cfg.Health.GRPCListen != "127.0.0.1:9613" {
		t.Fatalf("unexpected health.grpc_listen: %q", cfg.Health.GRPCListen)
	}
}

// TestLoad_ConfigDirMergesTomlFiles verifies config directory loading and file-order merge.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirMergesTomlFiles(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-sonar.toml": minimalSonar,
		"10-export.toml": `
[export]
settings = "/etc/sonar-exporter/export.toml"

[server]
listen = "127.0.0.1:9999"
`,
	})

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load config dir: %v", err)
	}

	if cfg.Sonar.URL != "https://sonar.example.com" {
		t.Fatalf("unexpected sonar.url: %q", cfg.Sonar.URL)
	}
	if cfg.Server.Listen != "127.0.0.1:9999" {
		t.Fatalf("unexpected server.listen: %q", cfg.Server.Listen)
	}
}

// TestLoad_ConfigDirRequiresExportSettings verifies directories need an explicit settings file.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirRequiresExportSettings(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-sonar.toml": minimalSonar,
	})

	_, err := config.Load(dir)
	if err == nil {
		t.Fatalf("expected error for config dir without export.settings")
	}
	if !strings.Contains(err.Error(), "export.settings") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_ConfigDirRejectsWithoutToml verifies empty config directories fail.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirRejectsWithoutToml(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("not a config"), 0o644); err != nil {
		t.Fatalf("write non-toml file: %v", err)
	}

	_, err := config.Load(dir)
	if err == nil {
		t.Fatalf("expected error for config dir without *.toml")
	}
	if !strings.Contains(err.Error(), "no *.toml files") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestLoad_ConfigDirIgnoresNonToml verifies non-toml files are ignored when valid toml files exist.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ConfigDirIgnoresNonToml(t *testing.T) {
	dir := writeConfigDir(t, map[string]string{
		"00-sonar.toml": minimalSonar + `
[export]
settings = "/tmp/export.toml"
`,
		"notes.md": `
this file should be ignored by config loader
`,
	})

	if _, err := config.Load(dir); err != nil {
		t.Fatalf("expected config dir with non-toml extras to load: %v", err)
	}
}

// TestLoad_RejectsInvalid covers fail-fast validation.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]struct {
		body string
		want string
	}{
		"missing sonar url": {
			body: `[server]
listen = ":9612"
`,
			want: "sonar.url is required",
		},
		"unsupported scheme": {
			body: `[sonar]
url = "ftp://sonar"
`,
			want: "http or https",
		},
		"page size above cap": {
			body: minimalSonar + "page_size = 501\n",
			want: "sonar.page_size",
		},
		"negative concurrency": {
			body: minimalSonar + "concurrency = -1\n",
			want: "sonar.concurrency",
		},
		"empty include pattern": {
			body: minimalSonar + "include_projects = [\"\"]\n",
			want: "include_projects[0]",
		},
		"relative server path": {
			body: minimalSonar + "\n[server]\npath = \"metrics\"\n",
			want: "server.path",
		},
		"bad listen": {
			body: minimalSonar + "\n[server]\nlisten = \"9612\"\n",
			want: "server.listen",
		},
		"negative scrape timeout": {
			body: minimalSonar + "\n[server]\nscrape_timeout = \"-1s\"\n",
			want: "scrape_timeout",
		},
		"bad duration": {
			body: minimalSonar + "\n[server]\nscrape_timeout = \"soon\"\n",
			want: "decode TOML",
		},
		"self path collides": {
			body: minimalSonar + "\n[self]\nenabled = true\npath = \"/api/prometheus/metrics\"\n",
			want: "self.path",
		},
		"file sink without path": {
			body: minimalSonar + "\n[log.file]\nenabled = true\n",
			want: "log.file.path",
		},
		"unknown log level": {
			body: minimalSonar + "\n[log.console]\nlevel = \"verbose\"\n",
			want: "log.console.level",
		},
		"bad health listen": {
			body: minimalSonar + "\n[health]\ngrpc_listen = \"nope\"\n",
			want: "health.grpc_listen",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

// TestLoad_ParsesPprofConfig verifies pprof defaults.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_ParsesPprofConfig(t *testing.T) {
	path := writeConfig(t, minimalSonar+`
[pprof]
enabled = true
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if !cfg.Pprof.Enabled {
		t.Fatalf("expected pprof to be enabled")
	}
	if got := cfg.Pprof.Listen; got != "127.0.0.1:6060" {
		t.Fatalf("unexpected pprof.listen default: %q", got)
	}
}

// TestLoad_RejectsInvalidPprofListen verifies pprof listen validation.
// Params: testing.T for assertions.
// Returns: none.
func TestLoad_RejectsInvalidPprofListen(t *testing.T) {
	path := writeConfig(t, minimalSonar+`
[pprof]
enabled = true
listen = "invalid"
`)

	_, err := config.Load(path)
	if err == nil {
		t.Fatalf("expected validation error for invalid pprof.listen")
	}
}

// writeConfig creates a temp TOML config for tests.
// Params: t test handle; body TOML content.
// Returns: absolute path to temp config.
func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return path
}

// writeConfigDir creates a temp config directory populated with provided files.
// Params: t test handle; files map[name]body.
// Returns: absolute directory path.
func writeConfigDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config file %q: %v", name, err)
		}
	}

	return dir
}
