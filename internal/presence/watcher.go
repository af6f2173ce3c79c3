package presence

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"grimm.is/turnstile/internal/logging"
)

// DefaultDebounce coalesces bursts of writes to the flag file.
const DefaultDebounce = 100 * time.Millisecond

// Watcher calls OnChange whenever a file-backed source changes, so the
// controller does not wait for the next poll to react.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(context.Context)
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
}

// NewWatcher watches the directory holding path. Watching the directory
// rather than the file survives writers that replace it by rename.
func NewWatcher(path string, onChange func(context.Context), logger *logging.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:     abs,
		debounce: DefaultDebounce,
		onChange: onChange,
		logger:   logging.OrDefault(logger, "presence"),
		watcher:  fw,
	}, nil
}

// Run processes events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
				!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.logger.Debug("presence file changed", "path", w.path)
			w.onChange(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("presence watcher error", "error", err)
		}
	}
}
