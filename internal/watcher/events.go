package watcher

import (
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type EventKind string

const (
	KindChanged          EventKind = "changed"
	KindRenamed          EventKind = "renamed"
	KindDeleted          EventKind = "deleted"
	KindObservationError EventKind = "observation_error"
)

// ChangeEvent is one of Changed, Renamed, Deleted or ObservationError.
type ChangeEvent interface {
	Kind() EventKind
}

// Changed reports that the content of the target plausibly changed.
type Changed struct {
	At        time.Time
	NewLength int
	// Diff is only known to detectors that keep the previous content.
	Diff *DiffStat
}

type Renamed struct {
	OldPath string
	// NewPath is empty when the platform did not report the destination.
	NewPath string
}

type Deleted struct {
	At   time.Time
	Path string
}

type ObservationSource string

const (
	// ObservationRead is a read of the target that failed for good.
	ObservationRead ObservationSource = "read"
	// ObservationSubsystem is a failure of the notification facility itself.
	ObservationSubsystem ObservationSource = "subsystem"
)

type ObservationError struct {
	Source  ObservationSource
	Message string
	Err     error
	// Fatal asks the owner of the detector to end the watch.
	Fatal bool
}

func (Changed) Kind() EventKind          { return KindChanged }
func (Renamed) Kind() EventKind          { return KindRenamed }
func (Deleted) Kind() EventKind          { return KindDeleted }
func (ObservationError) Kind() EventKind { return KindObservationError }

// DiffStat counts the runes inserted and deleted between two snapshots.
type DiffStat struct {
	Inserted int
	Deleted  int
}

func diffStat(before, after []byte) *DiffStat {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(before), string(after), false)

	stat := &DiffStat{}
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			stat.Inserted += utf8.RuneCountInString(d.Text)
		case diffmatchpatch.DiffDelete:
			stat.Deleted += utf8.RuneCountInString(d.Text)
		}
	}
	return stat
}
