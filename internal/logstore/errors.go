package logstore

import "errors"

var (
	// ErrWriteFailed wraps a write that failed after the retry.
	ErrWriteFailed = errors.New("logstore: write failed")

	// ErrNoStores is returned by NewMultiSink with nothing to fan out to.
	ErrNoStores = errors.New("logstore: no stores configured")
)
