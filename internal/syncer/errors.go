package syncer

import (
	"errors"
	"fmt"
)

var (
	ErrLockContention = errors.New("working copy is locked by another sync")
	// ErrReservedName marks a local file whose name ends in a stored
	// representation suffix and so cannot be stored unambiguously.
	ErrReservedName = errors.New("name ends in a reserved storage suffix")
)

// ScanError is returned when a tree root cannot be scanned at all.
type ScanError struct {
	Root string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan %s: %v", e.Root, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// FileError is a per-file failure. The file is skipped and the sync continues.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// CodecError reports a stored payload that could not be decoded.
type CodecError struct {
	Path string
	Err  error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// StageError tags a fatal error with the pipeline stage it happened in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
