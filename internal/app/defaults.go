package app

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
)

// GetDefaults returns the default config path, data directory, log directory
// and user. Each is taken from the environment when set:
//   - HRB_CONFIG_PATH, else $XDG_CONFIG_HOME/hrbsync.toml, else ~/.config/hrbsync.toml
//   - HRB_HOME, else $XDG_DATA_HOME/hrbsync, else ~/.local/share/hrbsync
//   - HRB_USER, else the login name
func GetDefaults() (map[string]string, error) {
	configPath, err := locate("HRB_CONFIG_PATH", "XDG_CONFIG_HOME", ".config", "hrbsync.toml")
	if err != nil {
		return nil, err
	}

	baseDir, err := locate("HRB_HOME", "XDG_DATA_HOME", filepath.Join(".local", "share"), "hrbsync")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"user":        loginName(),
	}, nil
}

// locate resolves a path from an explicit override variable, then an XDG
// base directory variable, then a directory relative to the home directory.
// Relative XDG values are ignored.
func locate(override, xdg, homeRel, name string) (string, error) {
	if p := os.Getenv(override); p != "" {
		return p, nil
	}
	if dir := os.Getenv(xdg); filepath.IsAbs(dir) {
		return filepath.Join(dir, name), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, homeRel, name), nil
}

func loginName() string {
	if name := os.Getenv("HRB_USER"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
