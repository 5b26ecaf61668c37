package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/chorus/internal/config"
)

// ResolveWorkspaceRootPath resolves the configured workspace root.
// If empty, it falls back to ~/.chorus/workspaces.
func ResolveWorkspaceRootPath(workspaceRootPath string) (string, error) {
	if trimmed := strings.TrimSpace(workspaceRootPath); trimmed != "" {
		return config.ExpandPath(trimmed)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".chorus", "workspaces"), nil
}

// GetWorkspacePath returns the base path for a workspace.
func GetWorkspacePath(workspaceID string, workspaceRootPath string) (string, error) {
	root, err := ResolveWorkspaceRootPath(workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, workspaceID), nil
}

// GetSessionsDir returns the transcript directory for a workspace.
func GetSessionsDir(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceSubdir(workspaceID, workspaceRootPath, "sessions")
}

// GetGovernanceDir holds message counters and the SQLite counter database.
func GetGovernanceDir(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceSubdir(workspaceID, workspaceRootPath, "governance")
}

func GetDocumentsDir(workspaceID string, workspaceRootPath string) (string, error) {
	return workspaceSubdir(workspaceID, workspaceRootPath, "documents")
}

func GetLockPath(workspaceID string, workspaceRootPath string) (string, error) {
	base, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, lockFileName), nil
}

func workspaceSubdir(workspaceID, workspaceRootPath, name string) (string, error) {
	base, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, name), nil
}
