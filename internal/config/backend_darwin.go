//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const defaultsDomain = "com.askpdf.app"

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "askpdf-data"
	}
	return filepath.Join(home, "Library", "Application Support", "askpdf")
}

func apiKeyHint() string {
	return " or the login keychain (service " + secretService + ")"
}

// defaultsBackend reads and writes the askpdf UserDefaults domain through
// the defaults(1) tool.
type defaultsBackend string

func newPlatformBackend() Backend {
	return defaultsBackend(defaultsDomain)
}

func (d defaultsBackend) run(args ...string) ([]byte, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("defaults %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func (d defaultsBackend) GetString(key string) (string, bool, error) {
	out, err := d.run("read", string(d), key)
	if err != nil {
		// Exit status 1 means the key is unset.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(string(out)), true, nil
}

func (d defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := d.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	n, err := toInt(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

func (d defaultsBackend) SetString(key, val string) error {
	_, err := d.run("write", string(d), key, "-string", val)
	return err
}

func (d defaultsBackend) SetInt(key string, val int) error {
	_, err := d.run("write", string(d), key, "-int", fmt.Sprint(val))
	return err
}

func (d defaultsBackend) Delete(key string) error {
	_, err := d.run("delete", string(d), key)
	return err
}
