//go:build linux

package clock

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// AnchorFileName is the name of the anchor file inside the state directory.
const AnchorFileName = "clock_anchor"

// EnsureSaneTime checks if system time is reasonable.
// If not, it sets the system clock from the anchor saved in stateDir.
// Call it before restoring grants so that expiry arithmetic is meaningful.
func EnsureSaneTime(stateDir string) error {
	if IsReasonableTime(time.Now()) {
		return nil
	}

	anchor, err := loadAnchor(filepath.Join(stateDir, AnchorFileName))
	if err != nil {
		return fmt.Errorf("system time is unreasonable and no anchor available: %w", err)
	}

	if err := setSystemTime(anchor); err != nil {
		return fmt.Errorf("failed to set system time: %w", err)
	}

	slog.Info("System time was unreasonable, set to anchor", "anchor", anchor.Format(time.RFC3339))
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

func loadAnchor(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}

	var t time.Time
	if err := t.UnmarshalText(data); err != nil {
		return time.Time{}, err
	}

	return t, nil
}

// setSystemTime sets the system clock. Requires CAP_SYS_TIME.
func setSystemTime(t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	return unix.Settimeofday(&tv)
}
