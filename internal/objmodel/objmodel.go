// Package objmodel defines the four immutable, content-addressed object
// kinds exchanged by the synchronization protocol — commits, trees, blobs,
// and raw blocks — and their canonical encoding and hashing.
package objmodel

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lukechampine.com/blake3"
)

// ErrInvalidHash is returned when a hash string cannot be parsed.
var ErrInvalidHash = errors.New("invalid hash")

// HashSize is the size in bytes of a BLAKE3-256 hash.
const HashSize = 32

// Hash identifies an object or block by the BLAKE3-256 digest of its
// canonical bytes.
type Hash [HashSize]byte

// String renders the hash as lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (used to represent "no parent").
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a hex-encoded hash string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidHash, HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashBytes computes the BLAKE3-256 hash of raw bytes. This is used directly
// for Block hashing, and as the final step of hashing a Commit/Tree/Blob's
// canonical encoding.
func HashBytes(b []byte) Hash {
	return Hash(blake3.Sum256(b))
}

// EntryKind distinguishes a directory entry from a file entry in a Tree.
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryDir
)

func (k EntryKind) String() string {
	switch k {
	case EntryFile:
		return "file"
	case EntryDir:
		return "dir"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the entry kind as its string form, so the canonical
// encoding doesn't depend on the integer values assigned above.
func (k EntryKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON parses the string form back into an EntryKind.
func (k *EntryKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "file":
		*k = EntryFile
	case "dir":
		*k = EntryDir
	default:
		return fmt.Errorf("unknown entry kind %q", s)
	}
	return nil
}

// TreeEntry is one name -> {kind, hash} mapping within a Tree. Trees keep
// entries in an explicit slice (not a map) so the canonical encoding — and
// therefore the hash — follows the slice order exactly: the same entries in
// a different order encode and hash differently.
type TreeEntry struct {
	Name string    `json:"name"`
	Kind EntryKind `json:"kind"`
	Hash Hash      `json:"hash"`
}

// MarshalJSON renders the hash as hex.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON parses a hex-encoded hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Tree is an ordered mapping from entry name to a child object's hash.
type Tree struct {
	Entries []TreeEntry `json:"entries"`
}

// Commit records one point in the linear commit chain.
type Commit struct {
	Parent    *Hash     `json:"parent,omitempty"`
	TreeRoot  Hash      `json:"tree_root"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Sequence  uint64    `json:"sequence"`
}

// Blob is an ordered list of block hashes making up a file's content.
type Blob struct {
	BlockHashes []Hash `json:"block_hashes"`
	Size        int64  `json:"size"`
	Mode        uint32 `json:"mode"`
}

// Encode returns the canonical byte encoding of a Commit.
func (c *Commit) Encode() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode commit: %w", err)
	}
	return b, nil
}

// Hash returns the content hash of the commit's canonical encoding.
func (c *Commit) Hash() (Hash, error) {
	b, err := c.Encode()
	if err != nil {
		return Hash{}, err
	}
	return HashBytes(b), nil
}

// DecodeCommit parses a commit's canonical encoding.
func DecodeCommit(b []byte) (*Commit, error) {
	var c Commit
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode commit: %w", err)
	}
	return &c, nil
}

// Encode returns the canonical byte encoding of a Tree.
func (t *Tree) Encode() ([]byte, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode tree: %w", err)
	}
	return b, nil
}

// Hash returns the content hash of the tree's canonical encoding.
func (t *Tree) Hash() (Hash, error) {
	b, err := t.Encode()
	if err != nil {
		return Hash{}, err
	}
	return HashBytes(b), nil
}

// DecodeTree parses a tree's canonical encoding.
func DecodeTree(b []byte) (*Tree, error) {
	var t Tree
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	return &t, nil
}

// Encode returns the canonical byte encoding of a Blob.
func (b *Blob) Encode() ([]byte, error) {
	out, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode blob: %w", err)
	}
	return out, nil
}

// Hash returns the content hash of the blob's canonical encoding.
func (b *Blob) Hash() (Hash, error) {
	enc, err := b.Encode()
	if err != nil {
		return Hash{}, err
	}
	return HashBytes(enc), nil
}

// DecodeBlob parses a blob's canonical encoding.
func DecodeBlob(b []byte) (*Blob, error) {
	var blob Blob
	if err := json.Unmarshal(b, &blob); err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	return &blob, nil
}
