package config

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestDataDirFor(t *testing.T) {
	home := filepath.FromSlash("/home/ops")
	tests := []struct {
		name    string
		env     map[string]string
		homeErr error
		dirs    []string
		want    string
	}{
		{name: "xdg wins", env: map[string]string{"XDG_DATA_HOME": "/srv/data"}, dirs: []string{filepath.Join(home, "Library")}, want: filepath.Join("/srv/data", "roomledger")},
		{name: "macos", dirs: []string{filepath.Join(home, "Library")}, want: filepath.Join(home, "Library", "Application Support", "RoomLedger")},
		{name: "windows", dirs: []string{filepath.Join(home, "AppData")}, want: filepath.Join(home, "AppData", "Local", "RoomLedger")},
		{name: "linux", want: filepath.Join(home, ".local", "share", "roomledger")},
		{name: "no home", homeErr: errors.New("$HOME is not defined"), want: "./data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.env[k] }
			homeFn := func() (string, error) {
				if tt.homeErr != nil {
					return "", tt.homeErr
				}
				return home, nil
			}
			exists := func(p string) bool {
				for _, d := range tt.dirs {
					if d == p {
						return true
					}
				}
				return false
			}
			if got := dataDirFor(getenv, homeFn, exists); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDefaultDataDirHonoursXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	if got := DefaultDataDir(); got != filepath.Join(dir, "roomledger") {
		t.Fatalf("got %s", got)
	}
}

func TestIsDir(t *testing.T) {
	dir := t.TempDir()
	if !isDir(dir) {
		t.Fatal("temp dir not reported as a directory")
	}
	if isDir(filepath.Join(dir, "missing")) {
		t.Fatal("missing path reported as a directory")
	}
}
