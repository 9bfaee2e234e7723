// Package config holds the client configuration: run-time authentication
// parameters, tunnel definitions and miscellaneous settings, read from a
// YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	svn "github.com/cespedes/svnra"
	"github.com/cespedes/svnra/auth"
)

// Credential store back ends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreNone   = "none"
)

// Config holds all the client settings.
type Config struct {
	// ConfigDir holds the credential store.
	ConfigDir string

	// Auth settings
	Username           string
	Password           string
	NonInteractive     bool
	NoAuthCache        bool
	StorePasswords     bool
	StorePlaintext     bool
	AuthStore          string
	CacheTTL           time.Duration
	ClientCert         string
	ClientCertPassword string
	AuthorityFiles     []string

	// Tunnels maps svn+NAME schemes to the command reaching svnserve.
	Tunnels map[string]string

	// Misc settings
	UserAgent string
	NativeEOL string
	EOL       svn.NativeEOL
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := ".subversion"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".subversion")
	}
	return &Config{
		ConfigDir:      dir,
		StorePasswords: true,
		AuthStore:      StoreFile,
		Tunnels:        map[string]string{},
		UserAgent:      "go-svn",
	}
}

// LoadFromEnv overrides settings with environment variables.
// SVN_SSH replaces the ssh tunnel; SVN_CONFIG_DIR the configuration
// directory; GO_SVN_* the rest.
func (c *Config) LoadFromEnv() {
	getEnv := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}
	getEnvBool := func(key string, fallback bool) bool {
		v := os.Getenv(key)
		if v == "" {
			return fallback
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return b
	}

	if v := os.Getenv("SVN_SSH"); v != "" {
		if c.Tunnels == nil {
			c.Tunnels = map[string]string{}
		}
		c.Tunnels["ssh"] = v
	}
	c.ConfigDir = getEnv("SVN_CONFIG_DIR", c.ConfigDir)
	c.Username = getEnv("GO_SVN_USERNAME", c.Username)
	c.Password = getEnv("GO_SVN_PASSWORD", c.Password)
	c.NonInteractive = getEnvBool("GO_SVN_NON_INTERACTIVE", c.NonInteractive)
	c.NoAuthCache = getEnvBool("GO_SVN_NO_AUTH_CACHE", c.NoAuthCache)
	c.AuthStore = getEnv("GO_SVN_AUTH_STORE", c.AuthStore)
	c.NativeEOL = getEnv("GO_SVN_NATIVE_EOL", c.NativeEOL)
	c.UserAgent = getEnv("GO_SVN_USER_AGENT", c.UserAgent)
	if v := os.Getenv("GO_SVN_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CacheTTL = d
		}
	}
}

// Validate checks the configuration and resolves EOL from NativeEOL.
func (c *Config) Validate() error {
	switch c.AuthStore {
	case StoreFile, StoreSQLite, StoreNone:
	default:
		return fmt.Errorf("unknown auth store %q (want %s, %s or %s)", c.AuthStore, StoreFile, StoreSQLite, StoreNone)
	}
	if c.AuthStore != StoreNone && c.ConfigDir == "" {
		return fmt.Errorf("the %s auth store needs a configuration directory", c.AuthStore)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("negative credential cache TTL %v", c.CacheTTL)
	}
	eol, err := svn.ParseNativeEOL(c.NativeEOL)
	if err != nil {
		return fmt.Errorf("miscellany.native_eol: %w", err)
	}
	c.EOL = eol
	for name, cmd := range c.Tunnels {
		if name == "" || strings.ContainsAny(name, ":/+") {
			return fmt.Errorf("invalid tunnel name %q", name)
		}
		if strings.TrimSpace(cmd) == "" {
			return fmt.Errorf("empty command for tunnel %q", name)
		}
	}
	return nil
}

// Load returns the configuration from defaults, then the file at path
// if it is not empty, then the environment.
func Load(fs afero.Fs, path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fc, err := LoadFromFile(fs, path)
		if err != nil {
			return nil, err
		}
		fc.applyTo(cfg)
	}
	cfg.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OpenStore opens the credential store selected by AuthStore.  With no
// store, or with NoAuthCache, credentials live in memory only.
func (c *Config) OpenStore(fs afero.Fs) (auth.Store, error) {
	if c.NoAuthCache {
		return auth.NewMemoryStore(), nil
	}
	switch c.AuthStore {
	case StoreFile:
		return auth.NewFileStore(fs, c.ConfigDir), nil
	case StoreSQLite:
		if err := os.MkdirAll(c.ConfigDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating configuration directory: %w", err)
		}
		return auth.OpenSQLStore(filepath.Join(c.ConfigDir, "auth.db"))
	}
	return auth.NewMemoryStore(), nil
}

// Apply sets the run-time parameters of b from the configuration.
func (c *Config) Apply(b *auth.Baton) {
	set := func(name, v string) {
		if v != "" {
			b.SetParameter(name, v)
		}
	}
	set(auth.ParamDefaultUsername, c.Username)
	set(auth.ParamDefaultPassword, c.Password)
	set(auth.ParamConfigDir, c.ConfigDir)
	if c.NonInteractive {
		b.SetParameter(auth.ParamNonInteractive, true)
	}
	if c.NoAuthCache {
		b.SetParameter(auth.ParamNoAuthCache, true)
	}
	if !c.StorePasswords {
		b.SetParameter(auth.ParamDontStorePasswords, true)
	}
}

// ClientCertProvider offers the configured client certificate file.
func (c *Config) ClientCertProvider() auth.Provider {
	return clientCertProvider{path: c.ClientCert, passphrase: c.ClientCertPassword}
}

type clientCertProvider struct {
	path, passphrase string
}

func (clientCertProvider) CredKind() string { return auth.KindSSLClientCert }

func (p clientCertProvider) Attempts(req *auth.Request) auth.Attempts {
	done := false
	return auth.AttemptsFunc(func() (auth.Credentials, error) {
		if done {
			return nil, nil
		}
		done = true
		return auth.SSLClientCertCredentials{Path: p.path, Passphrase: p.passphrase}, nil
	})
}
