package syncer

import (
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// Modification pairs the destination (Old) and source (New) descriptors of a path
// whose content differs.
type Modification struct {
	Old FileDescriptor
	New FileDescriptor
}

// Change is a single entry of a ChangeSet, used for ordered iteration.
type Change struct {
	Path string
	Kind ChangeKind
}

// ChangeSet is the difference between a source and a destination snapshot. The
// key sets of Added, Modified and Deleted are pairwise disjoint.
type ChangeSet struct {
	Added    map[string]FileDescriptor
	Modified map[string]Modification
	Deleted  mapset.Set[string]
}

func NewChangeSet() *ChangeSet {
	return &ChangeSet{
		Added:    make(map[string]FileDescriptor),
		Modified: make(map[string]Modification),
		Deleted:  mapset.NewThreadUnsafeSet[string](),
	}
}

func (c *ChangeSet) Len() int {
	return len(c.Added) + len(c.Modified) + c.Deleted.Cardinality()
}

func (c *ChangeSet) IsEmpty() bool {
	return c.Len() == 0
}

func (c *ChangeSet) AddedPaths() []string {
	return sortedKeys(c.Added)
}

func (c *ChangeSet) ModifiedPaths() []string {
	return sortedKeys(c.Modified)
}

func (c *ChangeSet) DeletedPaths() []string {
	paths := c.Deleted.ToSlice()
	slices.Sort(paths)
	return paths
}

// Changes returns every change in byte-wise path order.
func (c *ChangeSet) Changes() []Change {
	changes := make([]Change, 0, c.Len())
	for path := range c.Added {
		changes = append(changes, Change{Path: path, Kind: ChangeAdded})
	}
	for path := range c.Modified {
		changes = append(changes, Change{Path: path, Kind: ChangeModified})
	}
	for path := range c.Deleted.Iter() {
		changes = append(changes, Change{Path: path, Kind: ChangeDeleted})
	}
	slices.SortFunc(changes, func(a, b Change) int {
		return strings.Compare(a.Path, b.Path)
	})
	return changes
}

// Protect drops pending deletions of the given paths, and of every path below
// them, and returns the ones it dropped. It keeps files that exist on the source
// side but could not be read from being deleted on the destination side.
func (c *ChangeSet) Protect(paths ...string) []string {
	if len(paths) == 0 {
		return nil
	}

	var dropped []string
	for _, deleted := range c.Deleted.ToSlice() {
		if slices.ContainsFunc(paths, func(p string) bool { return isWithin(deleted, p) }) {
			c.Deleted.Remove(deleted)
			dropped = append(dropped, deleted)
		}
	}
	slices.Sort(dropped)
	return dropped
}

// isWithin reports whether path is dir or lies below it.
func isWithin(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+"/")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
