// Package media copies picked files into the editor's working directory
// before they are inserted into a document.
package media

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"inkbridge/internal/attachment"
)

var (
	// ErrUnsupportedType is returned for an extension that is not accepted
	// or not recognised as image or video.
	ErrUnsupportedType = errors.New("media: unsupported file type")
	// ErrTooLarge is returned when a file exceeds the size limit.
	ErrTooLarge = errors.New("media: file too large")
	// ErrEmpty is returned for a zero-length file.
	ErrEmpty = errors.New("media: file is empty")
)

// DefaultMaxBytes bounds a single imported file.
const DefaultMaxBytes = 256 << 20

var kindByExt = map[string]attachment.Kind{
	"jpg":  attachment.KindImage,
	"jpeg": attachment.KindImage,
	"png":  attachment.KindImage,
	"gif":  attachment.KindImage,
	"webp": attachment.KindImage,
	"heic": attachment.KindImage,
	"bmp":  attachment.KindImage,
	"svg":  attachment.KindImage,
	"mp4":  attachment.KindVideo,
	"m4v":  attachment.KindVideo,
	"mov":  attachment.KindVideo,
	"webm": attachment.KindVideo,
	"mkv":  attachment.KindVideo,
	"avi":  attachment.KindVideo,
	"3gp":  attachment.KindVideo,
}

// KindOf classifies path by extension.
func KindOf(path string) (attachment.Kind, error) {
	ext := extension(path)
	kind, ok := kindByExt[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return kind, nil
}

func extension(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Item is an imported file.
type Item struct {
	Path string
	Kind attachment.Kind
	Hash string
	Size int64
}

// Intake owns the working directory.
type Intake struct {
	dir      string
	maxBytes int64
}

// NewIntake creates dir if needed. maxBytes <= 0 selects DefaultMaxBytes.
func NewIntake(dir string, maxBytes int64) (*Intake, error) {
	if dir == "" {
		return nil, errors.New("media: working directory is required")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	return &Intake{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the working directory.
func (i *Intake) Dir() string {
	return i.dir
}

// Import copies src into the working directory under a content-addressed
// name. accepted, when non-empty, restricts the extensions allowed.
func (i *Intake) Import(ctx context.Context, src string, accepted []string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	ext := extension(src)
	if !acceptable(ext, accepted) {
		return Item{}, fmt.Errorf("%w: %q not in accepted extensions", ErrUnsupportedType, ext)
	}
	kind, err := KindOf(src)
	if err != nil {
		return Item{}, err
	}

	f, err := os.Open(src)
	if err != nil {
		return Item{}, fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	hash, size, tempPath, err := i.spoolAndHash(f)
	if err != nil {
		return Item{}, err
	}

	final := filepath.Join(i.dir, hash[:32]+"."+ext)
	if _, err := os.Stat(final); err == nil {
		// Same content already imported.
		_ = os.Remove(tempPath)
	} else if err := os.Rename(tempPath, final); err != nil {
		_ = os.Remove(tempPath)
		return Item{}, fmt.Errorf("store imported file: %w", err)
	}
	return Item{Path: final, Kind: kind, Hash: hash, Size: size}, nil
}

func (i *Intake) spoolAndHash(r io.Reader) (string, int64, string, error) {
	tempFile, err := os.CreateTemp(i.dir, ".intake-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	keepFile := false
	defer func() {
		_ = tempFile.Close()
		if !keepFile {
			_ = os.Remove(tempPath)
		}
	}()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return "", 0, "", err
	}
	limited := &io.LimitedReader{R: r, N: i.maxBytes + 1}
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), limited)
	if err != nil {
		return "", 0, "", fmt.Errorf("copy to temp file: %w", err)
	}
	if written > i.maxBytes {
		return "", 0, "", fmt.Errorf("%w: max %d bytes", ErrTooLarge, i.maxBytes)
	}
	if written == 0 {
		return "", 0, "", ErrEmpty
	}
	if err := tempFile.Sync(); err != nil {
		return "", 0, "", fmt.Errorf("sync temp file: %w", err)
	}
	keepFile = true
	return hex.EncodeToString(hasher.Sum(nil)), written, tempPath, nil
}

// Remove deletes an imported file. Paths outside the working directory are
// refused.
func (i *Intake) Remove(path string) error {
	rel, err := filepath.Rel(i.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || strings.ContainsRune(rel, filepath.Separator) {
		return fmt.Errorf("media: %s is not an imported file", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func acceptable(ext string, accepted []string) bool {
	if len(accepted) == 0 {
		return true
	}
	for _, a := range accepted {
		if strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a), ".")) == ext {
			return true
		}
	}
	return false
}
