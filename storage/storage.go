// Package storage owns the files a session keeps on disk: the resolved
// data directory, the log file, and checksummed LZ4 snapshot files.
package storage

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const dirName = "territory-map"

var (
	dataDirOnce sync.Once
	dataDirPath string
)

// DataDir returns the writable data directory, creating it on first use.
// TMAP_DATA_DIR overrides the platform default.
func DataDir() string {
	dataDirOnce.Do(func() {
		dataDirPath = resolveDataDir()
		_ = os.MkdirAll(dataDirPath, 0o755)
	})
	return dataDirPath
}

// DataFile joins the data directory with a relative file name.
func DataFile(name string) string {
	return filepath.Join(DataDir(), name)
}

// ReadDataFile reads one file from the data directory.
func ReadDataFile(name string) ([]byte, error) {
	return os.ReadFile(DataFile(name))
}

// WriteDataFile writes one file into the data directory, creating any
// intermediate directories the name implies.
func WriteDataFile(name string, data []byte, perm os.FileMode) error {
	path := DataFile(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

func resolveDataDir() string {
	if dir := os.Getenv("TMAP_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return dirName
	}

	switch runtime.GOOS {
	case "windows":
		for _, env := range []string{"APPDATA", "LOCALAPPDATA"} {
			if base := os.Getenv(env); base != "" {
				return filepath.Join(base, dirName)
			}
		}
		return filepath.Join(home, dirName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", dirName)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, dirName)
		}
		return filepath.Join(home, ".local", "share", dirName)
	}
}
