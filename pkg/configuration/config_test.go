package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// swapGlobal installs cfg as the package-wide configuration for one test.
func swapGlobal(t *testing.T, cfg *Config) {
	t.Helper()
	old := globalConfig
	globalConfig = cfg
	t.Cleanup(func() { globalConfig = old })
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.cfg")
	content := `; comment line
# another comment style
orphan = ignored before any section

[System]
database_file = test.db
max_concurrent_sessions =   7

[Debug]
log_level=DEBUG
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if got := cfg.settings["System"]["database_file"]; got != "test.db" {
		t.Errorf("database_file = %q, want test.db", got)
	}
	// Whitespace around = is trimmed
	if got := cfg.settings["System"]["max_concurrent_sessions"]; got != "7" {
		t.Errorf("max_concurrent_sessions = %q, want 7", got)
	}
	if got := cfg.settings["Debug"]["log_level"]; got != "DEBUG" {
		t.Errorf("log_level = %q, want DEBUG", got)
	}
	// Pairs before the first section header are dropped
	for section, keys := range cfg.settings {
		if _, exists := keys["orphan"]; exists {
			t.Errorf("orphan key survived in section %q", section)
		}
	}
}

func TestDefaultConfigCreatedOnFirstLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.cfg")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file was not written: %v", err)
	}

	if got := cfg.settings["System"]["database_file"]; got != "brainterm.db" {
		t.Errorf("default database_file = %q, want brainterm.db", got)
	}
	if got := cfg.settings["Interpreter"]["max_output_bytes"]; got != "262144" {
		t.Errorf("default max_output_bytes = %q, want 262144", got)
	}
	if got := cfg.settings["TLS"]["http_port"]; got != "8080" {
		t.Errorf("default http_port = %q, want 8080", got)
	}

	// The generated file parses back to the same values
	reloaded, err := loadConfig(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := reloaded.settings["System"]["examples_catalog"]; got != "examples/catalog.yaml" {
		t.Errorf("reloaded examples_catalog = %q, want examples/catalog.yaml", got)
	}
	if got := reloaded.settings["Debug"]["log_auth"]; got != "true" {
		t.Errorf("reloaded log_auth = %q, want true", got)
	}
}

func TestTypedGetters(t *testing.T) {
	swapGlobal(t, &Config{settings: map[string]map[string]string{
		"Network": {
			"port":    "8443",
			"ratio":   "0.75",
			"debug":   "true",
			"window":  "250ms",
			"garbage": "not-a-number",
		},
	}})

	if got := GetString("Network", "port", "x"); got != "8443" {
		t.Errorf("GetString = %q, want 8443", got)
	}
	if got := GetString("Network", "missing", "fallback"); got != "fallback" {
		t.Errorf("GetString missing key = %q, want fallback", got)
	}
	if got := GetString("NoSuchSection", "port", "fallback"); got != "fallback" {
		t.Errorf("GetString missing section = %q, want fallback", got)
	}

	if got := GetInt("Network", "port", 1); got != 8443 {
		t.Errorf("GetInt = %d, want 8443", got)
	}
	if got := GetInt("Network", "garbage", 42); got != 42 {
		t.Errorf("GetInt unparseable = %d, want default 42", got)
	}

	if got := GetFloat("Network", "ratio", 0); got != 0.75 {
		t.Errorf("GetFloat = %v, want 0.75", got)
	}
	if got := GetBool("Network", "debug", false); !got {
		t.Error("GetBool = false, want true")
	}
	if got := GetBool("Network", "garbage", true); !got {
		t.Error("GetBool unparseable should return the default")
	}
	if got := GetDuration("Network", "window", time.Second); got != 250*time.Millisecond {
		t.Errorf("GetDuration = %v, want 250ms", got)
	}
	if got := GetDuration("Network", "garbage", 5*time.Second); got != 5*time.Second {
		t.Errorf("GetDuration unparseable = %v, want default 5s", got)
	}
}

func TestGettersWithoutInitialize(t *testing.T) {
	swapGlobal(t, nil)

	if got := GetString("System", "database_file", "fallback"); got != "fallback" {
		t.Errorf("GetString without config = %q, want fallback", got)
	}
	if got := GetInt("System", "max_concurrent_sessions", 9); got != 9 {
		t.Errorf("GetInt without config = %d, want 9", got)
	}
	if got := GetSection("System"); len(got) != 0 {
		t.Errorf("GetSection without config = %v, want empty map", got)
	}
}

func TestSetStringAndSectionCopy(t *testing.T) {
	swapGlobal(t, &Config{settings: make(map[string]map[string]string)})

	SetString("Runtime", "key", "value")
	if got := GetString("Runtime", "key", ""); got != "value" {
		t.Errorf("SetString roundtrip = %q, want value", got)
	}

	// GetSection hands out a copy, not the live map
	section := GetSection("Runtime")
	section["key"] = "tampered"
	if got := GetString("Runtime", "key", ""); got != "value" {
		t.Errorf("GetSection copy leaked: key = %q, want value", got)
	}
}

func TestLocalOverlayOverridesBase(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "settings.cfg")
	localPath := filepath.Join(dir, "settings.local.cfg")

	base := "[System]\ndatabase_file = base.db\nmax_inactive_time = 30m\n"
	local := "[System]\ndatabase_file = local.db\n\n[Extra]\nadded = yes\n"
	if err := os.WriteFile(basePath, []byte(base), 0644); err != nil {
		t.Fatalf("failed to write base config: %v", err)
	}
	if err := os.WriteFile(localPath, []byte(local), 0644); err != nil {
		t.Fatalf("failed to write local config: %v", err)
	}

	cfg, err := loadConfig(basePath)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if err := cfg.loadLocalConfig(localPath); err != nil {
		t.Fatalf("loadLocalConfig failed: %v", err)
	}

	if got := cfg.settings["System"]["database_file"]; got != "local.db" {
		t.Errorf("database_file = %q, want local.db override", got)
	}
	if got := cfg.settings["System"]["max_inactive_time"]; got != "30m" {
		t.Errorf("max_inactive_time = %q, want untouched 30m", got)
	}
	if got := cfg.settings["Extra"]["added"]; got != "yes" {
		t.Errorf("Extra section not merged, added = %q", got)
	}
}
