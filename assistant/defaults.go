// Package assistant holds the application-wide defaults and error kinds shared
// by every subsystem of the guild assistant.
package assistant

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName      = "guild-assistant"
	DefaultDatabaseType = "libsql"
	DefaultEnvPrefix    = "ASSISTANT"
)

var (
	DefaultConfigPath  = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDataDir     = filepath.Join(userDataDir(), DefaultAppName)
	DefaultDatabaseDSN = "file:" + filepath.Join(DefaultDataDir, "knowledge.db")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}
