//go:build darwin

package config

import (
	"fmt"
	"os/exec"
)

// Secrets live in the login keychain as generic passwords.

func keychainGet(service, account string) ([]byte, error) {
	return exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
}

func keychainSet(service, account, value string) error {
	// -U updates an existing item in place.
	out, err := exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value).CombinedOutput()
	if err != nil {
		return fmt.Errorf("storing %s/%s in keychain: %w: %s", service, account, err, out)
	}
	return nil
}
