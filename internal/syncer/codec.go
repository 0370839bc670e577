package syncer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	// ZstdSuffix marks a zstd compressed artifact in a working copy.
	ZstdSuffix = "-zstd"
	// LegacyGzipSuffix marks gzip artifacts written by older releases. They are
	// decoded but never produced.
	LegacyGzipSuffix = "-gzipped.txt"
)

// Representation is the on-disk form of a file inside a working copy.
type Representation int

const (
	Raw Representation = iota
	Zstd
	Gzip
)

func (r Representation) String() string {
	switch r {
	case Raw:
		return "raw"
	case Zstd:
		return "zstd"
	case Gzip:
		return "gzip"
	default:
		return fmt.Sprintf("Representation(%d)", int(r))
	}
}

// priority orders representations of the same logical path; lower wins.
func (r Representation) priority() int {
	switch r {
	case Zstd:
		return 0
	case Gzip:
		return 1
	default:
		return 2
	}
}

// CompressionLevel trades speed for size. The zero value is LevelDefault.
type CompressionLevel int

const (
	LevelDefault CompressionLevel = iota
	LevelFast
	LevelMax
)

func (l CompressionLevel) String() string {
	switch l {
	case LevelFast:
		return "fast"
	case LevelDefault:
		return "default"
	case LevelMax:
		return "max"
	default:
		return fmt.Sprintf("CompressionLevel(%d)", int(l))
	}
}

func ParseCompressionLevel(s string) (CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return LevelFast, nil
	case "", "default":
		return LevelDefault, nil
	case "max", "best":
		return LevelMax, nil
	default:
		return LevelDefault, fmt.Errorf("compression level must be one of 'fast', 'default' or 'max', got %q", s)
	}
}

func (l CompressionLevel) zstdLevel() zstd.EncoderLevel {
	switch l {
	case LevelFast:
		return zstd.SpeedFastest
	case LevelMax:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// CompressionPolicy selects how file payloads are written into a working copy.
// The zero value disables compression.
type CompressionPolicy struct {
	Enabled bool
	Level   CompressionLevel
}

func (p CompressionPolicy) String() string {
	if !p.Enabled {
		return "disabled"
	}
	return "zstd/" + p.Level.String()
}

// Codec is the write side of a stored representation.
type Codec interface {
	Representation() Representation
	StoredPath(logicalPath string) string
	Encode(content []byte) ([]byte, error)
}

// NewCodec returns the codec for a compression policy.
func NewCodec(policy CompressionPolicy) (Codec, error) {
	if !policy.Enabled {
		return rawCodec{}, nil
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(policy.Level.zstdLevel()),
		zstd.WithZeroFrames(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &zstdCodec{level: policy.Level, enc: enc}, nil
}

type rawCodec struct{}

func (rawCodec) Representation() Representation {
	return Raw
}

func (rawCodec) StoredPath(logicalPath string) string {
	return logicalPath
}

func (rawCodec) Encode(content []byte) ([]byte, error) {
	return content, nil
}

type zstdCodec struct {
	level CompressionLevel
	enc   *zstd.Encoder
}

func (c *zstdCodec) Representation() Representation {
	return Zstd
}

func (c *zstdCodec) StoredPath(logicalPath string) string {
	return logicalPath + ZstdSuffix
}

// Encode is safe for concurrent use; EncodeAll does not share state between calls.
func (c *zstdCodec) Encode(content []byte) ([]byte, error) {
	return c.enc.EncodeAll(content, make([]byte, 0, len(content)/2+64)), nil
}

// Encode maps logical content to its stored bytes and stored path under a policy.
func Encode(content []byte, logicalPath string, policy CompressionPolicy) ([]byte, string, error) {
	codec, err := NewCodec(policy)
	if err != nil {
		return nil, "", err
	}
	stored, err := codec.Encode(content)
	if err != nil {
		return nil, "", err
	}
	return stored, codec.StoredPath(logicalPath), nil
}

// Decode maps stored bytes back to logical content and path. The representation
// is taken from the stored path suffix, so no policy is needed and repositories
// mixing raw and compressed files decode fine.
func Decode(stored []byte, storedPath string) ([]byte, string, error) {
	logicalPath, rep := ParseStoredPath(storedPath)
	if rep == Raw {
		return stored, logicalPath, nil
	}
	if len(stored) == 0 {
		return []byte{}, logicalPath, nil
	}

	r, err := NewDecodingReader(bytes.NewReader(stored), rep)
	if err != nil {
		return nil, "", &CodecError{Path: storedPath, Err: err}
	}
	defer r.Close()

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, "", &CodecError{Path: storedPath, Err: err}
	}
	return content, logicalPath, nil
}

// NewDecodingReader wraps r so that reads yield the logical content of a payload
// stored with the given representation.
func NewDecodingReader(r io.Reader, rep Representation) (io.ReadCloser, error) {
	switch rep {
	case Raw:
		return io.NopCloser(r), nil
	case Zstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case Gzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return gz, nil
	default:
		return nil, errors.New("unknown representation " + rep.String())
	}
}

// ParseStoredPath strips a representation suffix from a stored path.
func ParseStoredPath(storedPath string) (string, Representation) {
	if logical, ok := stripSuffix(storedPath, ZstdSuffix); ok {
		return logical, Zstd
	}
	if logical, ok := stripSuffix(storedPath, LegacyGzipSuffix); ok {
		return logical, Gzip
	}
	return storedPath, Raw
}

// stripSuffix only accepts suffixes on a non-empty base name, so a file
// literally named "-zstd" stays raw.
func stripSuffix(path, suffix string) (string, bool) {
	logical, ok := strings.CutSuffix(path, suffix)
	if !ok || logical == "" || strings.HasSuffix(logical, "/") {
		return path, false
	}
	return logical, true
}

// StoredVariants lists every stored path that can represent logicalPath.
func StoredVariants(logicalPath string) []string {
	return []string{
		logicalPath,
		logicalPath + ZstdSuffix,
		logicalPath + LegacyGzipSuffix,
	}
}
