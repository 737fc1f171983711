package watcher

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	DefaultPollInterval = 30 * time.Second

	// renameGrace is how long a rename of the target waits for the matching
	// create of its new name before it is reported without one.
	renameGrace = 50 * time.Millisecond

	// writeSettle is how long after the first write notification of the
	// target its content is read. A save that truncates and then writes
	// raises both notifications within this window and is read once.
	writeSettle = 20 * time.Millisecond
)

// События, за которыми мы следим. Chmod не нужен: он меняет только
// метаданные, но не содержимое.
var WatchedEvents = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename
