package config

import (
	"os"
	"path/filepath"
)

// DefaultDataDir returns where the Pebble store and SQLite ledger live when
// storage.dataDir is unset: $XDG_DATA_HOME/roomledger, then the platform's
// per-user application data directory, then ./data when there is no home.
func DefaultDataDir() string {
	return dataDirFor(os.Getenv, os.UserHomeDir, isDir)
}

func dataDirFor(getenv func(string) string, home func() (string, error), exists func(string) bool) string {
	if xdg := getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "roomledger")
	}
	h, err := home()
	if err != nil || h == "" {
		return "./data"
	}
	switch {
	case exists(filepath.Join(h, "Library")):
		return filepath.Join(h, "Library", "Application Support", "RoomLedger")
	case exists(filepath.Join(h, "AppData")):
		return filepath.Join(h, "AppData", "Local", "RoomLedger")
	default:
		return filepath.Join(h, ".local", "share", "roomledger")
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
