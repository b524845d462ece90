package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/charliek/logtap/internal/config"
)

// tokenBytes is the amount of randomness in an API token
const tokenBytes = 32

// homeDirOverride redirects the token directory in tests
var homeDirOverride string

// userDir is ~/.logtap, shared by every server run by this user
func userDir() string {
	home := homeDirOverride
	if home == "" {
		var err error
		if home, err = os.UserHomeDir(); err != nil {
			return ".logtap"
		}
	}
	return filepath.Join(home, ".logtap")
}

func tokenPath() string {
	return filepath.Join(userDir(), "token")
}

// generateToken returns a random hex token
func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// saveToken stores the token readable by the owner only
func saveToken(token string) error {
	if err := os.MkdirAll(userDir(), 0700); err != nil {
		return fmt.Errorf("creating %s: %w", userDir(), err)
	}
	if err := os.WriteFile(tokenPath(), []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

func loadToken() (string, error) {
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// isLocalhost reports whether binding to host only accepts local connections.
// An empty host is treated as the loopback default.
func isLocalhost(host string) bool {
	if host == "" || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// isAuthRequired uses api.auth when set and otherwise requires a token
// whenever the server listens beyond loopback
func isAuthRequired(cfg *config.Config) bool {
	if cfg.API.Auth != nil {
		return *cfg.API.Auth
	}
	return !isLocalhost(cfg.API.Host)
}
