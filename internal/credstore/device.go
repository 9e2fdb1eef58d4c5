package credstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DeviceIdentity returns the stable device identity stored at path, minting
// and persisting a new UUID on first run. The identity file is created with
// 0600 permissions alongside the session file so a copied config directory
// carries its binding with it.
func DeviceIdentity(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("device identity path cannot be empty")
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		id := strings.TrimSpace(string(data))
		if _, parseErr := uuid.Parse(id); parseErr != nil {
			return "", fmt.Errorf("corrupt device identity file %s: %w", path, parseErr)
		}
		return id, nil
	case errors.Is(err, fs.ErrNotExist):
		// First run: mint below.
	default:
		return "", err
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("persisting device identity: %w", err)
	}
	return id, nil
}
