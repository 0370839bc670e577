package syncer

import (
	"cmp"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/openmined/filesyncer/internal/utils"
)

const defaultFileMode fs.FileMode = 0o644

// apply makes the destination tree match the change set. Deletions run first so
// a path can turn from a file into a directory, or back, in one run. Per-file
// failures are returned as warnings; only cancellation stops the loop.
func (o *Orchestrator) apply(ctx context.Context, cs *ChangeSet, source *Snapshot, srcRoot, dstRoot string) ([]error, error) {
	var warnings []error

	changes := cs.Changes()
	slices.SortStableFunc(changes, func(a, b Change) int {
		return cmp.Compare(applyOrder(a.Kind), applyOrder(b.Kind))
	})

	for _, change := range changes {
		if err := ctx.Err(); err != nil {
			return warnings, err
		}

		var err error
		switch change.Kind {
		case ChangeAdded, ChangeModified:
			fd, ok := source.Lookup(change.Path)
			if !ok {
				err = &FileError{Op: "write", Path: change.Path, Err: errors.New("missing from source snapshot")}
				break
			}
			if o.cfg.Mode == ModePush {
				err = o.pushWrite(fd, source, srcRoot, dstRoot)
			} else {
				err = o.pullWrite(fd, srcRoot, dstRoot)
			}
		case ChangeDeleted:
			if o.cfg.Mode == ModePush {
				err = o.pushDelete(change.Path, dstRoot)
			} else {
				err = o.pullDelete(change.Path, dstRoot)
			}
		}

		if err != nil {
			o.log.Warn("sync", "op", change.Kind, "status", "Error", "path", change.Path, "error", err)
			warnings = append(warnings, err)
		}
	}

	return warnings, nil
}

// pushWrite encodes a local file into the working copy and drops stale stored
// variants of the same logical path. A variant that is itself a source path is
// left alone.
func (o *Orchestrator) pushWrite(fd FileDescriptor, source *Snapshot, localRoot, wcRoot string) error {
	content, err := os.ReadFile(absPath(localRoot, fd.StoredPath))
	if err != nil {
		return &FileError{Op: "read", Path: fd.Path, Err: err}
	}

	stored, err := o.codec.Encode(content)
	if err != nil {
		return &FileError{Op: "encode", Path: fd.Path, Err: err}
	}
	storedPath := o.codec.StoredPath(fd.Path)

	if err := utils.WriteFileAtomic(absPath(wcRoot, storedPath), stored, defaultFileMode); err != nil {
		return &FileError{Op: "write", Path: storedPath, Err: err}
	}

	for _, variant := range StoredVariants(fd.Path) {
		if variant == storedPath {
			continue
		}
		if _, ok := source.Lookup(variant); ok {
			continue
		}
		if err := removeIfExists(absPath(wcRoot, variant)); err != nil {
			return &FileError{Op: "remove", Path: variant, Err: err}
		}
	}

	o.log.Info("sync", "op", "write", "path", storedPath, "size", humanize.Bytes(uint64(len(content))), "stored", humanize.Bytes(uint64(len(stored))))
	return nil
}

func (o *Orchestrator) pushDelete(logicalPath, wcRoot string) error {
	for _, variant := range StoredVariants(logicalPath) {
		path := absPath(wcRoot, variant)
		if err := removeIfExists(path); err != nil {
			return &FileError{Op: "remove", Path: variant, Err: err}
		}
		utils.RemoveEmptyParents(wcRoot, path)
	}
	o.log.Info("sync", "op", "delete", "path", logicalPath)
	return nil
}

// pullWrite decodes a stored file of the working copy into the local tree.
func (o *Orchestrator) pullWrite(fd FileDescriptor, wcRoot, localRoot string) error {
	stored, err := os.ReadFile(absPath(wcRoot, fd.StoredPath))
	if err != nil {
		return &FileError{Op: "read", Path: fd.StoredPath, Err: err}
	}

	content, logicalPath, err := Decode(stored, fd.StoredPath)
	if err != nil {
		return err
	}

	target := absPath(localRoot, logicalPath)
	mode := defaultFileMode
	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
		mode = info.Mode().Perm()
	}

	if err := utils.WriteFileAtomic(target, content, mode); err != nil {
		return &FileError{Op: "write", Path: logicalPath, Err: err}
	}

	o.log.Info("sync", "op", "write", "path", logicalPath, "size", humanize.Bytes(uint64(len(content))))
	return nil
}

func (o *Orchestrator) pullDelete(logicalPath, localRoot string) error {
	path := absPath(localRoot, logicalPath)
	if err := removeIfExists(path); err != nil {
		return &FileError{Op: "remove", Path: logicalPath, Err: err}
	}
	utils.RemoveEmptyParents(localRoot, path)
	o.log.Info("sync", "op", "delete", "path", logicalPath)
	return nil
}

func applyOrder(kind ChangeKind) int {
	if kind == ChangeDeleted {
		return 0
	}
	return 1
}

func absPath(root, relPath string) string {
	return filepath.Join(root, filepath.FromSlash(relPath))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
