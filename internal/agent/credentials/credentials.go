// Package credentials detects whether the Claude CLI is authenticated on this host.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
)

// Path returns the location of the Claude CLI credential file,
// $HOME/.claude/.credentials.json.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".claude", ".credentials.json"), nil
}

// Check reports whether the credential file exists and is readable.
// The file is never parsed at this layer; the CLI owns its contents.
func Check() error {
	path, err := Path()
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("claude credentials not readable at %s: %w", path, err)
	}
	return f.Close()
}
