package config

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// FileConfig holds configuration values loaded from a YAML file.
// All fields are pointers so we can distinguish "not set" from zero values.
type FileConfig struct {
	ConfigDir *string `yaml:"config_dir"`

	Auth struct {
		Username           *string   `yaml:"username"`
		NonInteractive     *bool     `yaml:"non_interactive"`
		NoAuthCache        *bool     `yaml:"no_auth_cache"`
		StorePasswords     *bool     `yaml:"store_passwords"`
		StorePlaintext     *bool     `yaml:"store_plaintext_passwords"`
		Store              *string   `yaml:"store"`
		CacheTTL           *string   `yaml:"cache_ttl"`
		ClientCert         *string   `yaml:"ssl_client_cert_file"`
		ClientCertPassword *string   `yaml:"ssl_client_cert_password"`
		AuthorityFiles     *[]string `yaml:"ssl_authority_files"`
	} `yaml:"auth"`

	Tunnels map[string]string `yaml:"tunnels"`

	Miscellany struct {
		NativeEOL *string `yaml:"native_eol"`
		UserAgent *string `yaml:"user_agent"`
	} `yaml:"miscellany"`

	cacheTTL time.Duration
}

// LoadFromFile reads and parses a YAML configuration file.
func LoadFromFile(fs afero.Fs, path string) (*FileConfig, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if fc.Auth.CacheTTL != nil {
		fc.cacheTTL, err = time.ParseDuration(*fc.Auth.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("parsing config file: auth.cache_ttl: %w", err)
		}
	}

	return &fc, nil
}

// applyTo applies non-nil file config values onto a Config.
func (fc *FileConfig) applyTo(cfg *Config) {
	if fc.ConfigDir != nil {
		cfg.ConfigDir = *fc.ConfigDir
	}
	a := fc.Auth
	if a.Username != nil {
		cfg.Username = *a.Username
	}
	if a.NonInteractive != nil {
		cfg.NonInteractive = *a.NonInteractive
	}
	if a.NoAuthCache != nil {
		cfg.NoAuthCache = *a.NoAuthCache
	}
	if a.StorePasswords != nil {
		cfg.StorePasswords = *a.StorePasswords
	}
	if a.StorePlaintext != nil {
		cfg.StorePlaintext = *a.StorePlaintext
	}
	if a.Store != nil {
		cfg.AuthStore = *a.Store
	}
	if a.CacheTTL != nil {
		cfg.CacheTTL = fc.cacheTTL
	}
	if a.ClientCert != nil {
		cfg.ClientCert = *a.ClientCert
	}
	if a.ClientCertPassword != nil {
		cfg.ClientCertPassword = *a.ClientCertPassword
	}
	if a.AuthorityFiles != nil {
		cfg.AuthorityFiles = *a.AuthorityFiles
	}
	for name, cmd := range fc.Tunnels {
		if cfg.Tunnels == nil {
			cfg.Tunnels = map[string]string{}
		}
		cfg.Tunnels[name] = cmd
	}
	if fc.Miscellany.NativeEOL != nil {
		cfg.NativeEOL = *fc.Miscellany.NativeEOL
	}
	if fc.Miscellany.UserAgent != nil {
		cfg.UserAgent = *fc.Miscellany.UserAgent
	}
}
