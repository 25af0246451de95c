package messagebus

import (
	"github.com/fsnotify/fsnotify"

	"github.com/bobain/overseer/pkg/role"
)

// Watcher wakes an agent early when a message arrives, instead of waiting
// for the next scheduled tick. It is a latency enrichment only: an agent
// that never starts a Watcher (or whose Watcher errors) still drains its
// inbox correctly on every tick via Drain, so correctness never depends
// on fsnotify delivering an event.
type Watcher struct {
	w *fsnotify.Watcher
}

// NewWatcher starts watching ro's inbox directory for new files.
func NewWatcher(b *Bus, ro role.Role) (*Watcher, error) {
	if err := b.ensureDirs(ro); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(b.inboxDir(ro)); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &Watcher{w: w}, nil
}

// Events returns a channel of filesystem events on the inbox directory.
// Callers select on it alongside their tick timer; any event is a hint to
// drain early, not a guarantee of a specific message.
func (w *Watcher) Events() <-chan fsnotify.Event {
	return w.w.Events
}

// Errors returns the watcher's error channel.
func (w *Watcher) Errors() <-chan error {
	return w.w.Errors
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.w.Close()
}
