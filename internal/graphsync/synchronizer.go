// Package graphsync implements the recursive commit->tree->blob->block
// traversal that drives a fetch (clone/pull) from a remote, or a collect
// (push) from the local store.
package graphsync

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/cofvcs/cof/internal/objmodel"
)

// RemoteClient is the subset of internal/session.Client the Synchronizer
// needs to drive a Fetch. Declared here (rather than imported) so this
// package can be tested against a mock without depending on internal/session.
type RemoteClient interface {
	RequestObject(ctx context.Context, hash string) ([]byte, error)
	RequestBlock(ctx context.Context, hash string) ([]byte, error)
}

// Synchronizer drives Fetch and Collect over a Store.
type Synchronizer struct {
	store Store
}

// NewSynchronizer builds a Synchronizer writing into (and, for Collect,
// reading from) store.
func NewSynchronizer(store Store) *Synchronizer {
	return &Synchronizer{store: store}
}

// Fetch pulls the transitive closure of objects reachable from commitHash on
// a remote into the local store. depth bounds how many commits along the
// parent chain are walked; nil means unbounded. pathFilter, if non-empty,
// restricts which tree entries (and their blobs/blocks) are downloaded.
func (s *Synchronizer) Fetch(ctx context.Context, client RemoteClient, commitHash string, depth *int, pathFilter string) error {
	visited := make(map[string]bool)
	return s.fetchCommit(ctx, client, commitHash, 0, depth, pathFilter, visited)
}

func (s *Synchronizer) fetchCommit(ctx context.Context, client RemoteClient, hash string, currentDepth int, depth *int, pathFilter string, visited map[string]bool) error {
	if visited[hash] {
		return nil
	}
	visited[hash] = true

	raw, err := client.RequestObject(ctx, hash)
	if err != nil {
		return fmt.Errorf("fetch commit %s: %w", hash, err)
	}
	h, err := objmodel.ParseHash(hash)
	if err != nil {
		return fmt.Errorf("parse commit hash %s: %w", hash, err)
	}
	if err := s.store.PutObject(h, raw); err != nil {
		return fmt.Errorf("store commit %s: %w", hash, err)
	}

	commit, err := objmodel.DecodeCommit(raw)
	if err != nil {
		return fmt.Errorf("decode commit %s: %w", hash, err)
	}

	if commit.Parent != nil && !commit.Parent.IsZero() {
		if depth == nil || currentDepth < *depth-1 {
			if err := s.fetchCommit(ctx, client, commit.Parent.String(), currentDepth+1, depth, pathFilter, visited); err != nil {
				return err
			}
		}
	}

	if !commit.TreeRoot.IsZero() {
		if err := s.fetchTree(ctx, client, commit.TreeRoot.String(), "", pathFilter, visited); err != nil {
			return err
		}
	}

	return nil
}

func (s *Synchronizer) fetchTree(ctx context.Context, client RemoteClient, hash, currentPath, pathFilter string, visited map[string]bool) error {
	if visited[hash] {
		return nil
	}
	visited[hash] = true

	raw, err := client.RequestObject(ctx, hash)
	if err != nil {
		return fmt.Errorf("fetch tree %s: %w", hash, err)
	}
	h, err := objmodel.ParseHash(hash)
	if err != nil {
		return fmt.Errorf("parse tree hash %s: %w", hash, err)
	}
	if err := s.store.PutObject(h, raw); err != nil {
		return fmt.Errorf("store tree %s: %w", hash, err)
	}

	tree, err := objmodel.DecodeTree(raw)
	if err != nil {
		return fmt.Errorf("decode tree %s: %w", hash, err)
	}

	for _, entry := range tree.Entries {
		childPath := entry.Name
		if currentPath != "" {
			childPath = path.Join(currentPath, entry.Name)
		}
		entryHash := entry.Hash.String()
		if entry.Kind == objmodel.EntryDir {
			// A directory is skipped only if no path under it could
			// possibly satisfy the filter; the full glob is re-checked
			// against each leaf as traversal continues.
			if pathFilter != "" && !dirMayMatch(childPath, pathFilter) {
				continue
			}
			if err := s.fetchTree(ctx, client, entryHash, childPath, pathFilter, visited); err != nil {
				return err
			}
		} else {
			if pathFilter != "" && !matchesFilter(childPath, pathFilter) {
				continue
			}
			if err := s.fetchBlob(ctx, client, entryHash, visited); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Synchronizer) fetchBlob(ctx context.Context, client RemoteClient, hash string, visited map[string]bool) error {
	if visited[hash] {
		return nil
	}
	visited[hash] = true

	raw, err := client.RequestObject(ctx, hash)
	if err != nil {
		return fmt.Errorf("fetch blob %s: %w", hash, err)
	}
	h, err := objmodel.ParseHash(hash)
	if err != nil {
		return fmt.Errorf("parse blob hash %s: %w", hash, err)
	}
	if err := s.store.PutObject(h, raw); err != nil {
		return fmt.Errorf("store blob %s: %w", hash, err)
	}

	blob, err := objmodel.DecodeBlob(raw)
	if err != nil {
		return fmt.Errorf("decode blob %s: %w", hash, err)
	}

	for _, bh := range blob.BlockHashes {
		blockHash := bh.String()
		if visited[blockHash] {
			continue
		}
		visited[blockHash] = true

		data, err := client.RequestBlock(ctx, blockHash)
		if err != nil {
			return fmt.Errorf("fetch block %s: %w", blockHash, err)
		}
		// commit_sequence_hint is always 0 along the fetch path: the
		// original implementation hard-codes this for cloned blocks and
		// nothing here has a real sequence number to offer instead.
		stored, err := s.store.PutBlock(data, 0)
		if err != nil {
			return fmt.Errorf("store block %s: %w", blockHash, err)
		}
		if stored != bh {
			return fmt.Errorf("%w: block %s stored as %s", ErrIntegrityViolation, blockHash, stored)
		}
	}

	return nil
}

// PushBlock pairs a block's raw bytes with the commit_sequence_hint Collect
// resolved for it, so a pusher can forward the hint onto the wire instead of
// discarding it at the boundary between the local store and PUSH_REQUEST.
type PushBlock struct {
	Data     []byte
	Sequence uint64
}

// Collect mirrors Fetch against the local store instead of a remote,
// producing the {hash -> serialized bytes} mapping push_objects needs.
// Objects (commits/trees/blobs) and blocks are returned separately since
// they land in different store tiers on the far end. No path filter, no
// depth limit.
func (s *Synchronizer) Collect(commitHash string) (objects map[string][]byte, blocks map[string]PushBlock, err error) {
	objects = map[string][]byte{}
	blocks = map[string]PushBlock{}
	visited := make(map[string]bool)
	if err := s.collectCommit(commitHash, visited, objects, blocks); err != nil {
		return nil, nil, err
	}
	return objects, blocks, nil
}

func (s *Synchronizer) collectCommit(hash string, visited map[string]bool, objects map[string][]byte, blocks map[string]PushBlock) error {
	if visited[hash] {
		return nil
	}
	visited[hash] = true

	h, err := objmodel.ParseHash(hash)
	if err != nil {
		return fmt.Errorf("parse commit hash %s: %w", hash, err)
	}
	raw, err := s.store.GetObject(h)
	if err != nil {
		return fmt.Errorf("load commit %s: %w", hash, err)
	}
	objects[hash] = raw

	commit, err := objmodel.DecodeCommit(raw)
	if err != nil {
		return fmt.Errorf("decode commit %s: %w", hash, err)
	}

	if commit.Parent != nil && !commit.Parent.IsZero() {
		if err := s.collectCommit(commit.Parent.String(), visited, objects, blocks); err != nil {
			return err
		}
	}
	if !commit.TreeRoot.IsZero() {
		if err := s.collectTree(commit.TreeRoot.String(), commit.Sequence, visited, objects, blocks); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) collectTree(hash string, sequence uint64, visited map[string]bool, objects map[string][]byte, blocks map[string]PushBlock) error {
	if visited[hash] {
		return nil
	}
	visited[hash] = true

	h, err := objmodel.ParseHash(hash)
	if err != nil {
		return fmt.Errorf("parse tree hash %s: %w", hash, err)
	}
	raw, err := s.store.GetObject(h)
	if err != nil {
		return fmt.Errorf("load tree %s: %w", hash, err)
	}
	objects[hash] = raw

	tree, err := objmodel.DecodeTree(raw)
	if err != nil {
		return fmt.Errorf("decode tree %s: %w", hash, err)
	}

	for _, entry := range tree.Entries {
		entryHash := entry.Hash.String()
		if entry.Kind == objmodel.EntryDir {
			if err := s.collectTree(entryHash, sequence, visited, objects, blocks); err != nil {
				return err
			}
		} else {
			if err := s.collectBlob(entryHash, sequence, visited, objects, blocks); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Synchronizer) collectBlob(hash string, sequence uint64, visited map[string]bool, objects map[string][]byte, blocks map[string]PushBlock) error {
	if visited[hash] {
		return nil
	}
	visited[hash] = true

	h, err := objmodel.ParseHash(hash)
	if err != nil {
		return fmt.Errorf("parse blob hash %s: %w", hash, err)
	}
	raw, err := s.store.GetObject(h)
	if err != nil {
		return fmt.Errorf("load blob %s: %w", hash, err)
	}
	objects[hash] = raw

	blob, err := objmodel.DecodeBlob(raw)
	if err != nil {
		return fmt.Errorf("decode blob %s: %w", hash, err)
	}

	for _, bh := range blob.BlockHashes {
		blockHash := bh.String()
		if visited[blockHash] {
			continue
		}
		visited[blockHash] = true

		data, err := s.store.GetBlock(bh)
		if err != nil {
			return fmt.Errorf("load block %s: %w", blockHash, err)
		}
		blocks[blockHash] = PushBlock{Data: data, Sequence: sequence}
	}
	return nil
}

// matchesFilter implements the shell-style glob with one extension: "**"
// matches any number of path components. When present, the pattern is split
// at the first "**" into a prefix and suffix; the path must start with the
// prefix (trailing slash stripped) and, if a suffix exists, match it as a
// suffix-glob. Otherwise standard glob matching applies, where "*" matches
// any run of characters including path separators (matching shell fnmatch
// semantics, not Go's path.Match, which stops "*" at "/").
func matchesFilter(p, pattern string) bool {
	if strings.Contains(pattern, "**") {
		parts := strings.SplitN(pattern, "**", 2)
		prefix, suffix := parts[0], parts[1]
		if prefix != "" && !strings.HasPrefix(p, strings.TrimSuffix(prefix, "/")) {
			return false
		}
		if suffix != "" {
			return globMatch("*"+strings.TrimPrefix(suffix, "/"), p)
		}
		return true
	}
	return globMatch(pattern, p)
}

// dirMayMatch reports whether some path under the directory at childPath
// could satisfy pattern, so the traversal doesn't prune a directory whose
// own path is too short to full-match the filter but that may still contain
// matching leaves (e.g. pattern "docs/*" against directory "docs"). It
// compares "childPath/" with the pattern's literal prefix (the part before
// its first wildcard), so it may report true for a directory holding no
// match, but never false for one that does.
func dirMayMatch(childPath, pattern string) bool {
	if strings.Contains(pattern, "**") {
		return true
	}
	dir := childPath + "/"
	i := strings.IndexAny(pattern, "*?")
	if i < 0 {
		return strings.HasPrefix(pattern, dir)
	}
	literal := pattern[:i]
	if len(literal) >= len(dir) {
		return strings.HasPrefix(literal, dir)
	}
	return strings.HasPrefix(dir, literal)
}

// globMatch reports whether s matches a shell glob pattern ("*" any run of
// characters, "?" any single character), translated to an anchored regexp.
func globMatch(pattern, s string) bool {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
