package script

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// defaultDebounce coalesces the event bursts editors and installers
// produce into one change notification.
const defaultDebounce = 500 * time.Millisecond

// Watcher reports changes to the script directory. Notifications are
// coalesced; the receiver is expected to trigger a full reload, so one
// signal per burst is enough.
type Watcher struct {
	dir      string
	debounce time.Duration
	log      *logrus.Entry
	changes  chan struct{}
}

// NewWatcher creates a watcher for the script directory.
func NewWatcher(dir string, log *logrus.Entry) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: defaultDebounce,
		log:      log,
		changes:  make(chan struct{}, 1),
	}
}

// Changes delivers one signal per coalesced change burst.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run watches until the context is cancelled. A directory that cannot be
// watched is logged and the watcher exits; script changes then require a
// manual reload.
func (w *Watcher) Run(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.WithError(err).Warn("script watcher unavailable")
		return
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		w.log.WithField("dir", w.dir).WithError(err).Warn("script dir not watchable")
		return
	}

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".lua") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
			w.log.WithField("dir", w.dir).Debug("script change detected")

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("script watcher error")
		}
	}
}
