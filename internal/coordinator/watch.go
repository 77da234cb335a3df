package coordinator

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchInbox returns a channel that receives a value whenever this
// liaison's inbox directory changes, as a low-latency nudge for a polling
// loop that would otherwise wait a full tick. Polling ReceiveMessages on
// its own schedule remains correct and is the spec-mandated fallback;
// watching is an optimization, not a substitute — callers must tolerate a
// nil/closed watcher (e.g. fsnotify unsupported on the platform) by
// falling back to their timer alone.
//
// The returned stop func closes the underlying watcher; callers should
// defer it.
func (c *Coordinator) WatchInbox() (events <-chan struct{}, stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, func() {}, err
	}
	inboxDir := c.inboxDir()
	if err := w.Add(inboxDir); err != nil {
		w.Close()
		return nil, func() {}, err
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			select {
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, func() { w.Close() }, nil
}

func (c *Coordinator) inboxDir() string {
	return filepath.Join(c.Folder, "coordination", "inbox", c.LiaisonID)
}
