package manager

import "errors"

var (
	// ErrRecordRepositoryRequired is returned when no record repository is supplied.
	ErrRecordRepositoryRequired = errors.New("record repository is required")

	// ErrCollectionRequired is returned when no collection config is supplied.
	ErrCollectionRequired = errors.New("collection is required")

	// ErrManagerClosed is returned by writes issued after Close.
	ErrManagerClosed = errors.New("index manager is closed")

	// ErrSnapshotsDisabled is returned by Persist when no snapshot repository is configured.
	ErrSnapshotsDisabled = errors.New("no snapshot repository configured")
)
