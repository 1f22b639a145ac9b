package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - WBMD_CONFIG_PATH: config file location (default: ~/.config/wbmd.toml)
//   - WBMD_HOME: base directory for wbmd data (default: ~/.local/share/wbmd)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking WBMD_CONFIG_PATH env var
// first, then falling back to the default ~/.config/wbmd.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("WBMD_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "wbmd.toml"), nil
}

// getBaseDir returns the base directory for wbmd data, checking WBMD_HOME env
// var first, then falling back to the XDG default ~/.local/share/wbmd.
func getBaseDir() (string, error) {
	if path := os.Getenv("WBMD_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "wbmd"), nil
}
