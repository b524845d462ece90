package config

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
)

// configCandidates are the file names FindConfigFile looks for, in order
var configCandidates = []string{
	"logtap.yaml",
	"logtap.yml",
	".logtap.yaml",
	".logtap.yml",
}

// FindConfigFile returns the first config file present in dir
func FindConfigFile(dir string) (string, error) {
	for _, name := range configCandidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no config file in %s (tried: %v)", dir, configCandidates)
}

// readEnvFile parses a dotenv file. A missing file is an error since it was
// named explicitly in the config.
func readEnvFile(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("env file not found: %s", path)
	case err != nil:
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	return env, nil
}

// overlayEnv copies layers into a new map; later layers win
func overlayEnv(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		maps.Copy(merged, layer)
	}
	return merged
}

// relativeTo joins path onto baseDir unless it is already absolute
func relativeTo(path, baseDir string) string {
	if baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// CheckFilePermissions rejects a config file that other users can write.
// The config names the bridge executable and its environment.
func CheckFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking file permissions: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o002 != 0 {
		return fmt.Errorf("config file %s is world-writable (mode %04o); run: chmod o-w %s", path, perm, path)
	}
	return nil
}
