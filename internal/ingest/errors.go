package ingest

import "errors"

// ErrSourceUnreadable is the only error that fails a whole run: the source
// directory could not be listed.
var ErrSourceUnreadable = errors.New("source directory unreadable")
