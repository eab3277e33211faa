package vector

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const namespacePrefix = "store-"

// OpenNamespace attaches to the most recently modified store directory
// under dataDir, or creates a fresh namespace when none exists. It returns
// the open store and the namespace name. One namespace is owned by one
// session at a time by convention.
func OpenNamespace(dataDir string, embedder Embedder) (*Store, string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating data directory: %w", err)
	}

	name, err := latestNamespace(dataDir)
	if err != nil {
		return nil, "", err
	}
	if name == "" {
		name = namespacePrefix + uuid.NewString()
	}

	store, err := Open(filepath.Join(dataDir, name), embedder)
	if err != nil {
		return nil, "", err
	}
	return store, name, nil
}

// ActiveNamespace returns the namespace OpenNamespace would attach to, or
// "" when none exists yet.
func ActiveNamespace(dataDir string) (string, error) {
	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		return "", nil
	}
	return latestNamespace(dataDir)
}

// latestNamespace returns the most recently modified namespace directory
// under dataDir, or "" when there is none.
func latestNamespace(dataDir string) (string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return "", fmt.Errorf("reading data directory: %w", err)
	}

	var latest string
	var latestMod int64
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), namespacePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); latest == "" || mod > latestMod {
			latest = entry.Name()
			latestMod = mod
		}
	}
	return latest, nil
}

// DestroyNamespace deletes a namespace directory and everything in it. The
// caller must have closed the store first.
func DestroyNamespace(dataDir, name string) error {
	if name == "" || !strings.HasPrefix(name, namespacePrefix) {
		return fmt.Errorf("refusing to destroy %q: not a store namespace", name)
	}
	if err := os.RemoveAll(filepath.Join(dataDir, name)); err != nil {
		return fmt.Errorf("destroying namespace %s: %w", name, err)
	}
	return nil
}
