package config

import (
	"path/filepath"
	"strings"
)

// ResolvedPaths are absolute-or-base-relative runtime locations.
type ResolvedPaths struct {
	DataDir     string
	LogDir      string
	PIDDir      string
	HistoryPath string
}

// ResolvePaths applies defaults and resolves relative entries against baseDir
// (usually the directory holding the config file).
func (c *Config) ResolvePaths(baseDir string) ResolvedPaths {
	abs := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	data := abs(c.Paths.DataDir)
	if data == "" {
		data = baseDir
	}
	out := ResolvedPaths{
		DataDir:     data,
		LogDir:      abs(c.Paths.LogDir),
		PIDDir:      abs(c.Paths.PIDDir),
		HistoryPath: abs(c.History.Path),
	}
	if out.LogDir == "" {
		out.LogDir = filepath.Join(data, "logs")
	}
	if out.PIDDir == "" {
		out.PIDDir = filepath.Join(data, "pids")
	}
	if out.HistoryPath == "" {
		name := "history.json"
		if isSQLite(c.History.Driver) {
			name = "history.db"
		}
		out.HistoryPath = filepath.Join(data, name)
	}
	return out
}

func isSQLite(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return true
	}
	return false
}
