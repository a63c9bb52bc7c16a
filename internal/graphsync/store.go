package graphsync

import "github.com/cofvcs/cof/internal/objmodel"

// Store is the narrow contract the Session Server and Graph Synchronizer
// consume. An implementation lives in internal/store; this package and
// internal/session depend only on this interface so they can be tested
// against an in-memory fake.
type Store interface {
	// PutObject stores the serialized commit/tree/blob under hash.
	// Idempotent.
	PutObject(hash objmodel.Hash, data []byte) error
	// GetObject returns the bytes stored under hash, or ErrNotFound.
	GetObject(hash objmodel.Hash) ([]byte, error)
	// PutBlock stores raw block bytes, returning the hash the store
	// assigned (always BLAKE3(data)), which the caller can compare with the
	// hash it expected.
	// Idempotent. commitSequenceHint affects physical layout only, never
	// identity.
	PutBlock(data []byte, commitSequenceHint uint64) (objmodel.Hash, error)
	// GetBlock returns the bytes stored under hash, or ErrNotFound.
	GetBlock(hash objmodel.Hash) ([]byte, error)
	// ListRefs returns the full branch name -> commit hash mapping.
	ListRefs() (map[string]string, error)
	// SetRef points branch at commitHash.
	SetRef(branch string, commitHash string) error
	// HeadCommit returns the hash of the current branch tip, or ok=false
	// if the repository has no commits yet.
	HeadCommit() (hash objmodel.Hash, ok bool, err error)
}
