package config

import (
	"testing"
	"time"

	"github.com/spf13/afero"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/auth"
)

// clearEnv keeps the caller's environment out of the tests.
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"SVN_SSH", "SVN_CONFIG_DIR",
		"GO_SVN_USERNAME", "GO_SVN_PASSWORD", "GO_SVN_NON_INTERACTIVE", "GO_SVN_NO_AUTH_CACHE",
		"GO_SVN_AUTH_STORE", "GO_SVN_NATIVE_EOL", "GO_SVN_USER_AGENT", "GO_SVN_CACHE_TTL",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFromFile_Basic(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/etc/svn.yml", `
config_dir: /home/sally/.svn
auth:
  username: sally
  store: sqlite
  cache_ttl: 5m
  ssl_authority_files: [/etc/ca.pem]
tunnels:
  rsh: rsh -l sally
miscellany:
  native_eol: CRLF
`)

	fc, err := LoadFromFile(fs, "/etc/svn.yml")
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if fc.Auth.Username == nil || *fc.Auth.Username != "sally" {
		t.Errorf("Username = %v, want 'sally'", fc.Auth.Username)
	}
	// Unset fields should be nil
	if fc.Auth.StorePasswords != nil {
		t.Errorf("StorePasswords = %v, want nil", fc.Auth.StorePasswords)
	}

	cfg := Default()
	fc.applyTo(cfg)
	if cfg.ConfigDir != "/home/sally/.svn" {
		t.Errorf("ConfigDir = %q", cfg.ConfigDir)
	}
	if cfg.AuthStore != StoreSQLite {
		t.Errorf("AuthStore = %q, want %q", cfg.AuthStore, StoreSQLite)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m", cfg.CacheTTL)
	}
	if !cfg.StorePasswords {
		t.Error("StorePasswords should keep its default")
	}
	if cfg.Tunnels["rsh"] != "rsh -l sally" {
		t.Errorf("Tunnels = %v", cfg.Tunnels)
	}
	if len(cfg.AuthorityFiles) != 1 || cfg.AuthorityFiles[0] != "/etc/ca.pem" {
		t.Errorf("AuthorityFiles = %v", cfg.AuthorityFiles)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.EOL != svn.EOLCRLF {
		t.Errorf("EOL = %v, want CRLF", cfg.EOL)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	if _, err := LoadFromFile(fs, "/nonexistent.yml"); err == nil {
		t.Error("LoadFromFile() should error for nonexistent file")
	}
	writeFile(t, fs, "/bad.yml", "auth: [unclosed")
	if _, err := LoadFromFile(fs, "/bad.yml"); err == nil {
		t.Error("LoadFromFile() should error for invalid YAML")
	}
	writeFile(t, fs, "/ttl.yml", "auth:\n  cache_ttl: soon\n")
	if _, err := LoadFromFile(fs, "/ttl.yml"); err == nil {
		t.Error("LoadFromFile() should error for a bad duration")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SVN_SSH", "ssh -i key")
	t.Setenv("SVN_CONFIG_DIR", "/tmp/svncfg")
	t.Setenv("GO_SVN_USERNAME", "harry")
	t.Setenv("GO_SVN_NON_INTERACTIVE", "true")
	t.Setenv("GO_SVN_CACHE_TTL", "1h")
	t.Setenv("GO_SVN_NO_AUTH_CACHE", "not a bool")

	cfg := Default()
	cfg.LoadFromEnv()
	if cfg.Tunnels["ssh"] != "ssh -i key" {
		t.Errorf("Tunnels[ssh] = %q", cfg.Tunnels["ssh"])
	}
	if cfg.ConfigDir != "/tmp/svncfg" || cfg.Username != "harry" || !cfg.NonInteractive {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.NoAuthCache {
		t.Error("malformed boolean should keep the default")
	}
	if cfg.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v", cfg.CacheTTL)
	}
}

func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/svn.yml", "auth:\n  username: file\nmiscellany:\n  user_agent: from-file\n")
	t.Setenv("GO_SVN_USERNAME", "env")

	cfg, err := Load(fs, "/svn.yml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Username != "env" {
		t.Errorf("Username = %q, want env to win over the file", cfg.Username)
	}
	if cfg.UserAgent != "from-file" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		desc  string
		edit  func(*Config)
		valid bool
	}{
		{"defaults", func(*Config) {}, true},
		{"no store without directory", func(c *Config) { c.AuthStore = StoreNone; c.ConfigDir = "" }, true},
		{"file store without directory", func(c *Config) { c.ConfigDir = "" }, false},
		{"unknown store", func(c *Config) { c.AuthStore = "keychain" }, false},
		{"native eol", func(c *Config) { c.NativeEOL = "lf" }, true},
		{"unknown native eol", func(c *Config) { c.NativeEOL = "LFCR" }, false},
		{"negative ttl", func(c *Config) { c.CacheTTL = -time.Second }, false},
		{"empty tunnel", func(c *Config) { c.Tunnels["rsh"] = " " }, false},
		{"bad tunnel name", func(c *Config) { c.Tunnels["svn+rsh"] = "rsh" }, false},
	}
	for _, test := range tests {
		cfg := Default()
		cfg.ConfigDir = "/cfg"
		test.edit(cfg)
		err := cfg.Validate()
		if (err == nil) != test.valid {
			t.Errorf("%s: Validate() = %v, want valid=%v", test.desc, err, test.valid)
		}
	}
}

func TestApplyAndStore(t *testing.T) {
	cfg := Default()
	cfg.ConfigDir = "/cfg"
	cfg.Username = "sally"
	cfg.NonInteractive = true
	cfg.StorePasswords = false

	b := auth.Open(nil)
	cfg.Apply(b)
	if b.Parameter(auth.ParamDefaultUsername) != "sally" {
		t.Errorf("username parameter = %v", b.Parameter(auth.ParamDefaultUsername))
	}
	if b.Parameter(auth.ParamNonInteractive) != true {
		t.Error("non-interactive parameter not set")
	}
	if b.Parameter(auth.ParamDontStorePasswords) != true {
		t.Error("dont-store-passwords parameter not set")
	}
	if b.Parameter(auth.ParamDefaultPassword) != nil {
		t.Error("empty password should not be set")
	}

	fs := afero.NewMemMapFs()
	store, err := cfg.OpenStore(fs)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*auth.FileStore); !ok {
		t.Errorf("store = %T, want *auth.FileStore", store)
	}
	cfg.NoAuthCache = true
	store, err = cfg.OpenStore(fs)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := store.(*auth.MemoryStore); !ok {
		t.Errorf("store = %T, want *auth.MemoryStore", store)
	}
}
