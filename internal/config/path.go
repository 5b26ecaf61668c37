package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExpandPath resolves $VARS and a leading "~" in configured paths.
// Blank input yields "".
func ExpandPath(path string) (string, error) {
	p := os.ExpandEnv(strings.TrimSpace(path))
	if p == "" {
		return "", nil
	}
	if rest, ok := strings.CutPrefix(p, "~"); ok && (rest == "" || rest[0] == '/') {
		home, err := homeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", path, err)
		}
		p = home + rest
	}
	return filepath.Clean(p), nil
}

func homeDir() (string, error) {
	candidates := []func() string{
		func() string { h, _ := os.UserHomeDir(); return h },
		func() string {
			if u, err := user.Current(); err == nil {
				return u.HomeDir
			}
			return ""
		},
	}
	for _, get := range candidates {
		if h := strings.TrimSpace(get()); h != "" && !strings.HasPrefix(h, "~") {
			return h, nil
		}
	}
	return "", fmt.Errorf("home directory is not resolvable")
}
