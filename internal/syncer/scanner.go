package syncer

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/filesyncer/internal/utils"
	"golang.org/x/sync/errgroup"
)

// MetadataDirName is the version control metadata directory. It is excluded from
// every scan, at any depth.
const MetadataDirName = ".git"

type ScanOptions struct {
	// Stored marks the tree as a working copy: suffixes are parsed and payloads
	// decoded before fingerprinting.
	Stored bool
	// Workers bounds fingerprint parallelism. Defaults to the number of CPUs.
	Workers int
	Ignore  *IgnoreList
}

type Scanner struct {
	opts ScanOptions
}

func NewScanner(opts ScanOptions) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Scanner{opts: opts}
}

type scanEntry struct {
	absPath     string
	storedPath  string
	logicalPath string
	rep         Representation
}

// Scan walks root and returns a snapshot of its regular files. Only a missing or
// unusable root is fatal; unreadable files and directories are skipped, reported
// as warnings and listed in Snapshot.Unreadable.
func (s *Scanner) Scan(ctx context.Context, root string) (*Snapshot, error) {
	tStart := time.Now()

	info, err := os.Stat(root)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &ScanError{Root: root, Err: errors.New("not a directory")}
	}

	var warnings []error
	unreadable := mapset.NewThreadUnsafeSet[string]()

	entries, err := s.walk(ctx, root, &warnings, unreadable)
	if err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	results := make([]FileDescriptor, len(entries))
	ok := make([]bool, len(entries))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, entry := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fd, err := fingerprint(entry)
			if err != nil {
				mu.Lock()
				warnings = append(warnings, err)
				unreadable.Add(entry.logicalPath)
				mu.Unlock()
				return nil
			}
			results[i] = fd
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &ScanError{Root: root, Err: err}
	}

	files := make([]FileDescriptor, 0, len(results))
	for i, fd := range results {
		if ok[i] {
			files = append(files, fd)
		}
	}

	// results arrive in completion order; restore path order and resolve
	// duplicate representations of one logical path
	slices.SortFunc(files, func(a, b FileDescriptor) int {
		return cmp.Or(
			strings.Compare(a.Path, b.Path),
			cmp.Compare(a.Representation.priority(), b.Representation.priority()),
		)
	})
	deduped := files[:0]
	for _, fd := range files {
		if n := len(deduped); n > 0 && deduped[n-1].Path == fd.Path {
			warnings = append(warnings, &FileError{
				Op:   "scan",
				Path: fd.StoredPath,
				Err:  fmt.Errorf("duplicate representation of %s, using %s", fd.Path, deduped[n-1].StoredPath),
			})
			continue
		}
		deduped = append(deduped, fd)
	}
	files = deduped
	for _, fd := range files {
		unreadable.Remove(fd.Path)
	}

	slices.SortFunc(warnings, func(a, b error) int {
		return strings.Compare(a.Error(), b.Error())
	})

	slog.Debug("scan",
		"root", root,
		"stored", s.opts.Stored,
		"files", len(files),
		"warnings", len(warnings),
		"tsScan", time.Since(tStart),
	)

	return &Snapshot{
		files:      files,
		unreadable: unreadable,
		warnings:   warnings,
	}, nil
}

func (s *Scanner) walk(ctx context.Context, root string, warnings *[]error, unreadable mapset.Set[string]) ([]scanEntry, error) {
	var entries []scanEntry

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			rel := relPath(root, path)
			if !s.opts.Ignore.ShouldIgnore(rel) {
				*warnings = append(*warnings, &FileError{Op: "walk", Path: rel, Err: walkErr})
				// a directory here stands for everything below it
				unreadable.Add(rel)
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && d.Name() == MetadataDirName {
				return fs.SkipDir
			}
			return nil
		}

		// symlinks, devices, sockets and pipes are not synced
		if !d.Type().IsRegular() {
			return nil
		}

		storedPath := relPath(root, path)
		logicalPath, rep := ParseStoredPath(storedPath)
		reserved := false
		if !s.opts.Stored {
			// a local "x-zstd" would read back as the compressed form of "x"
			reserved = rep != Raw
			logicalPath, rep = storedPath, Raw
		}

		if s.opts.Ignore.ShouldIgnore(logicalPath) {
			return nil
		}
		if reserved {
			*warnings = append(*warnings, &FileError{Op: "scan", Path: storedPath, Err: ErrReservedName})
			unreadable.Add(storedPath)
			return nil
		}

		entries = append(entries, scanEntry{
			absPath:     path,
			storedPath:  storedPath,
			logicalPath: logicalPath,
			rep:         rep,
		})
		return nil
	})

	return entries, err
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return utils.NormPath(rel)
}

// fingerprint hashes the logical content of one file, streaming it through the
// decoder of its representation.
func fingerprint(entry scanEntry) (FileDescriptor, error) {
	file, err := os.Open(entry.absPath)
	if err != nil {
		return FileDescriptor{}, &FileError{Op: "read", Path: entry.storedPath, Err: err}
	}
	defer file.Close()

	var r io.Reader = file
	if entry.rep != Raw {
		info, err := file.Stat()
		if err != nil {
			return FileDescriptor{}, &FileError{Op: "read", Path: entry.storedPath, Err: err}
		}
		// an empty stored payload is empty content
		if info.Size() > 0 {
			dec, err := NewDecodingReader(file, entry.rep)
			if err != nil {
				return FileDescriptor{}, &CodecError{Path: entry.storedPath, Err: err}
			}
			defer dec.Close()
			r = dec
		}
	}

	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		if entry.rep != Raw {
			return FileDescriptor{}, &CodecError{Path: entry.storedPath, Err: err}
		}
		return FileDescriptor{}, &FileError{Op: "read", Path: entry.storedPath, Err: err}
	}

	return FileDescriptor{
		Path:           entry.logicalPath,
		StoredPath:     entry.storedPath,
		Fingerprint:    hex.EncodeToString(h.Sum(nil)),
		Size:           n,
		Representation: entry.rep,
	}, nil
}
