package hrb

import (
	"context"
	"io"
)

// Transport moves blob content between this machine and the remote store.
// Implementations own their own timeouts; a call returns once the transfer
// has finished or failed.
type Transport interface {
	// Download writes the given rendition of blob id to w.
	Download(ctx context.Context, owner, coll string, id ObjectID, rendition string, w io.Writer) error

	// Upload stores size bytes read from r as blob id in the collection.
	Upload(ctx context.Context, owner, coll string, id ObjectID, entry CollEntry, r io.Reader, size int64) error
}

// CollectionSource produces the remote snapshot of a collection. A
// collection that does not exist yet loads as empty.
type CollectionSource interface {
	Load(ctx context.Context, owner, coll string) (*Collection, error)
}

// CollectionLinker records that a blob now belongs to a collection.
type CollectionLinker interface {
	Link(ctx context.Context, owner, coll string, id ObjectID, entry CollEntry) error
}

// TimeIndexer appends a blob to its owner's time-ordered index. done receives
// the backend outcome and must be called exactly once.
type TimeIndexer interface {
	Add(user string, id ObjectID, ts Timestamp, done func(error))
}

// LocalFile describes a blob being materialized in a local directory.
type LocalFile struct {
	Dir       string
	Name      string
	Timestamp Timestamp

	// ID, when non-zero, must match the identity of the written content
	// before the file becomes visible.
	ID ObjectID
}

// LocalStore is the local side of a synchronization: a flat directory of
// regular files.
type LocalStore interface {
	// Scan builds a snapshot of dir.
	Scan(dir, owner, coll string) (*Collection, error)

	// Open opens a file previously reported by Scan.
	Open(dir, name string) (io.ReadCloser, int64, error)

	// Write creates a new file from the bytes fill writes and returns its
	// path. Nothing is left behind when fill or verification fails.
	Write(f LocalFile, fill func(io.Writer) error) (string, error)
}

// SessionRecorder keeps a history of finished sync sessions.
type SessionRecorder interface {
	RecordSession(report *Report) error
	ListSessions(limit int) ([]*SessionSummary, error)
	SessionItems(sessionID string) ([]*ItemRecord, error)
}
