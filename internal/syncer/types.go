package syncer

import (
	"fmt"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// FileDescriptor describes one file of a scanned tree.
type FileDescriptor struct {
	// Path is the logical, slash separated path relative to the tree root.
	Path string
	// StoredPath is the on-disk relative path. It differs from Path only for
	// compressed artifacts in a working copy.
	StoredPath string
	// Fingerprint is the hex SHA-256 of the logical (decoded) content.
	Fingerprint string
	// Size is the logical content size in bytes.
	Size           int64
	Representation Representation
}

// Snapshot is an immutable, path ordered list of file descriptors.
type Snapshot struct {
	files      []FileDescriptor
	unreadable mapset.Set[string]
	warnings   []error
}

// NewSnapshot builds a snapshot from descriptors, sorting them by path.
// Duplicate paths are rejected.
func NewSnapshot(files ...FileDescriptor) (*Snapshot, error) {
	sorted := slices.Clone(files)
	sortDescriptors(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Path == sorted[i-1].Path {
			return nil, fmt.Errorf("duplicate path %q in snapshot", sorted[i].Path)
		}
	}
	return &Snapshot{
		files:      sorted,
		unreadable: mapset.NewThreadUnsafeSet[string](),
	}, nil
}

func sortDescriptors(files []FileDescriptor) {
	slices.SortFunc(files, func(a, b FileDescriptor) int {
		return strings.Compare(a.Path, b.Path)
	})
}

// Files returns a copy of the descriptors in path order.
func (s *Snapshot) Files() []FileDescriptor {
	return slices.Clone(s.files)
}

func (s *Snapshot) Len() int {
	return len(s.files)
}

// Lookup finds the descriptor for a logical path.
func (s *Snapshot) Lookup(path string) (FileDescriptor, bool) {
	i, found := slices.BinarySearchFunc(s.files, path, func(fd FileDescriptor, target string) int {
		return strings.Compare(fd.Path, target)
	})
	if !found {
		return FileDescriptor{}, false
	}
	return s.files[i], true
}

// Unreadable returns the logical paths that were present but could not be
// fingerprinted during the scan.
func (s *Snapshot) Unreadable() []string {
	paths := s.unreadable.ToSlice()
	slices.Sort(paths)
	return paths
}

// Warnings returns the non-fatal per-file errors gathered during the scan.
func (s *Snapshot) Warnings() []error {
	return slices.Clone(s.warnings)
}
