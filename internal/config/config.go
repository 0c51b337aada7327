package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// TrustNewIdentity names the policy applied when a new identity key is seen
// for a recipient. It gates whether sends are permitted without an explicit
// verification step.
type TrustNewIdentity string

const (
	// TrustAlways trusts every newly seen identity key, even one replacing
	// a verified key.
	TrustAlways TrustNewIdentity = "always"
	// TrustOnFirstUse trusts the first key seen for a recipient. A key that
	// replaces an already verified one stays untrusted until verified again.
	TrustOnFirstUse TrustNewIdentity = "on-first-use"
	// TrustNever leaves every new identity key untrusted.
	TrustNever TrustNewIdentity = "never"
)

// Validate checks that the policy is one of the known values.
func (t TrustNewIdentity) Validate() error {
	switch t {
	case TrustAlways, TrustOnFirstUse, TrustNever:
		return nil
	}
	return fmt.Errorf("invalid trust_new_identity %q: must be always, on-first-use or never", string(t))
}

// Config represents the global ~/.signal-cli/config.toml.
type Config struct {
	DefaultAccount     string           `toml:"default_account"`
	TrustNewIdentity   TrustNewIdentity `toml:"trust_new_identity"`
	ServiceEnvironment string           `toml:"service_environment"`
}

// Load reads config from the given path. Returns zero config and error if file
// missing. An absent trust_new_identity defaults to on-first-use.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.TrustNewIdentity == "" {
		cfg.TrustNewIdentity = TrustOnFirstUse
	}
	if err := cfg.TrustNewIdentity.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
