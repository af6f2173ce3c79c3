//go:build !linux

package clock

import (
	"os"
	"path/filepath"
	"time"
)

// AnchorFileName is the name of the anchor file inside the state directory.
const AnchorFileName = "clock_anchor"

// EnsureSaneTime is a no-op outside Linux.
func EnsureSaneTime(stateDir string) error {
	return nil
}

// SaveAnchor saves the current time as an anchor for future boots.
func SaveAnchor(stateDir string) error {
	data, err := time.Now().MarshalText()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(stateDir, AnchorFileName), data, 0644)
}
