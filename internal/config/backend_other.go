//go:build !darwin

package config

func defaultDataDir() string {
	return xdgPath("XDG_DATA_HOME", ".local/share", "askpdf")
}

func apiKeyHint() string {
	return " or the secrets file " + secretsFilePath()
}

func newPlatformBackend() Backend {
	return newFileBackend(xdgPath("XDG_CONFIG_HOME", ".config", "askpdf", "config.json"))
}
