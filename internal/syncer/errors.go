package syncer

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the engine.
var (
	// ErrRemoteFetch marks a network or API failure of the source.
	ErrRemoteFetch = errors.New("syncer: remote fetch failed")
	// ErrRecordParse marks a single malformed record.
	ErrRecordParse = errors.New("syncer: malformed record")
	// ErrSyncAborted means the run stopped before reaching the last page
	// because of too many failures.
	ErrSyncAborted = errors.New("syncer: sync aborted")
	// ErrTimeoutExceeded means the run hit its deadline.
	ErrTimeoutExceeded = errors.New("syncer: timeout exceeded")
)

// RecordParseError describes one record that could not be decoded.
type RecordParseError struct {
	// Index is the position of the record in its page.
	Index    int
	SourceID string
	Err      error
}

func (e *RecordParseError) Error() string {
	if e.SourceID != "" {
		return fmt.Sprintf("syncer: record %d (%s): %v", e.Index, e.SourceID, e.Err)
	}
	return fmt.Sprintf("syncer: record %d: %v", e.Index, e.Err)
}

// Is makes errors.Is(err, ErrRecordParse) true.
func (e *RecordParseError) Is(target error) bool { return target == ErrRecordParse }

func (e *RecordParseError) Unwrap() error { return e.Err }

// FetchError reports a page that could not be fetched after retries.
type FetchError struct {
	Cursor   string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("syncer: fetch cursor %q failed after %d attempts: %v", e.Cursor, e.Attempts, e.Err)
}

// Is matches both ErrRemoteFetch and ErrSyncAborted: an exhausted fetch
// aborts the run.
func (e *FetchError) Is(target error) bool {
	return target == ErrRemoteFetch || target == ErrSyncAborted
}

func (e *FetchError) Unwrap() error { return e.Err }
