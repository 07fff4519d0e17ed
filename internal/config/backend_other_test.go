//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	b := newPlatformBackend()
	if err := b.SetInt("server.port", 4242); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("index.name", "papers"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	// A fresh backend must see what the first one saved.
	b2 := newPlatformBackend()
	port, ok, err := b2.GetInt("server.port")
	if err != nil || !ok || port != 4242 {
		t.Errorf("GetInt = %d, %v, %v; want 4242, true, nil", port, ok, err)
	}
	name, ok, err := b2.GetString("index.name")
	if err != nil || !ok || name != "papers" {
		t.Errorf("GetString = %q, %v, %v; want papers, true, nil", name, ok, err)
	}

	if err := b2.Delete("index.name"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newPlatformBackend().GetString("index.name"); ok {
		t.Error("index.name still present after Delete")
	}
}

func TestFileBackendRejectsFractionalInt(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	p := filepath.Join(dir, "askpdf", "config.json")
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(`{"chunking.size": 10.5}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := newPlatformBackend().GetInt("chunking.size"); err == nil {
		t.Error("expected error for fractional integer")
	}
}

func TestSecretsFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if err := SetSecret("anthropic.api_key", "sk-ant"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}
	got, err := keychainReader{}.Get(secretService, "anthropic_api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-ant" {
		t.Errorf("secret = %q, want %q", got, "sk-ant")
	}
	if err := SetSecret("index.name", "x"); err == nil {
		t.Error("expected error storing a non-secret key as secret")
	}
}

func TestSecretsFileOverride(t *testing.T) {
	p := filepath.Join(t.TempDir(), "keys.json")
	t.Setenv(secretsFileEnv, p)

	if err := SetSecret("openai.api_key", "sk-test"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		t.Fatalf("secrets file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("secrets file mode = %o, want 600", perm)
	}
	if _, err := keychainGet(secretService, "missing_key"); err == nil {
		t.Error("expected error for unknown account")
	}
}
