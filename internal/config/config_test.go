package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultAccount:   "+14155550101",
		TrustNewIdentity: TrustAlways,
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultAccount != "+14155550101" {
		t.Errorf("DefaultAccount = %q, want +14155550101", loaded.DefaultAccount)
	}
	if loaded.TrustNewIdentity != TrustAlways {
		t.Errorf("TrustNewIdentity = %q, want always", loaded.TrustNewIdentity)
	}
}

func TestLoadDefaultsTrustPolicy(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte(`default_account = "+14155550101"`), 0600); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.TrustNewIdentity != TrustOnFirstUse {
		t.Errorf("TrustNewIdentity = %q, want on-first-use default", loaded.TrustNewIdentity)
	}
}

func TestLoadRejectsUnknownTrustPolicy(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(path, []byte(`trust_new_identity = "sometimes"`), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() accepted unknown trust policy")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultAccount: "+14155550101"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
