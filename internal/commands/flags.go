package commands

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/colonyops/earn/internal/core/config"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string

	// User is the acting user for task and earnings commands.
	User string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "earn", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "earn")
}

// DefaultLogFile returns the default log file path using the system's state directory.
// On macOS: ~/Library/Logs/earn/earn.log
// On Linux: $XDG_STATE_HOME/earn/earn.log (defaults to ~/.local/state/earn/earn.log)
func DefaultLogFile() string {
	// Check XDG_STATE_HOME first (works on both macOS and Linux)
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome != "" {
		return filepath.Join(stateHome, "earn", "earn.log")
	}

	home, _ := os.UserHomeDir()

	// On macOS, use ~/Library/Logs
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Logs", "earn", "earn.log")
	}

	// On Linux, use ~/.local/state
	return filepath.Join(home, ".local", "state", "earn", "earn.log")
}

// DefaultUser returns the acting user from $EARN_USER, falling back to $USER.
func DefaultUser() string {
	if u := os.Getenv("EARN_USER"); u != "" {
		return u
	}
	return os.Getenv("USER")
}
