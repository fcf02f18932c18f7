package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDirName is the directory holding the index database, config and logs.
const DataDirName = ".cardsync"

// IndexFileName is the SQLite database inside the data directory.
const IndexFileName = "index.db"

// GlobalDataPath returns the path to the global .cardsync directory.
// On Unix: ~/.cardsync
// On Windows: %USERPROFILE%\.cardsync
func GlobalDataPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, DataDirName), nil
}

// LocalDataPath returns the path to the .cardsync directory for the given
// project root.
func LocalDataPath(projectRoot string) string {
	return filepath.Join(projectRoot, DataDirName)
}

// EnsureDataDir creates dir if it doesn't exist.
func EnsureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}

// dataGitignore is the default .gitignore content for .cardsync directories.
const dataGitignore = `# Index database (rebuilt from the note source by "cardsync sync")
index.db
index.db-shm
index.db-wal

# Logs and secrets
cardsync.log*
.env
`

// EnsureGitignore creates a .gitignore in the given data directory if one
// does not already exist.
func EnsureGitignore(dataDir string) error {
	gitignorePath := filepath.Join(dataDir, ".gitignore")
	if _, err := os.Stat(gitignorePath); err == nil {
		return nil // already exists, respect user customizations
	}
	if err := os.WriteFile(gitignorePath, []byte(dataGitignore), 0600); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	return nil
}
