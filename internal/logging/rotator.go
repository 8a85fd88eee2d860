package logging

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const rotatedStamp = "20060102-150405.000"

// FileRotator is an io.Writer over Config.FilePath that starts a new file
// once MaxSize megabytes are written or the calendar day changes. Rotated
// files are optionally gzipped and pruned by MaxBackups and MaxAge in a
// background housekeeping goroutine.
type FileRotator struct {
	path       string
	maxBytes   int64
	maxBackups int
	maxAge     time.Duration
	compress   bool

	mu     sync.Mutex
	file   *os.File
	size   int64
	opened time.Time

	jobs chan string
	wg   sync.WaitGroup
}

// NewFileRotator opens (or creates) the log file described by cfg.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	if cfg.FilePath == "" {
		return nil, errors.New("logging: file output needs a path")
	}
	r := &FileRotator{
		path:       cfg.FilePath,
		maxBytes:   cfg.MaxSize << 20,
		maxBackups: cfg.MaxBackups,
		maxAge:     time.Duration(cfg.MaxAge) * 24 * time.Hour,
		compress:   cfg.Compress,
		jobs:       make(chan string, 8),
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	r.wg.Add(1)
	go r.housekeep()
	return r, nil
}

func (r *FileRotator) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = f
	r.size = info.Size()
	r.opened = time.Now()
	return nil
}

func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return 0, os.ErrClosed
	}
	if r.due(int64(len(p))) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}
	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// due reports whether writing n more bytes should start a new file. An
// empty file is never rotated so one oversized record cannot loop.
func (r *FileRotator) due(n int64) bool {
	if r.size == 0 {
		return false
	}
	if r.maxBytes > 0 && r.size+n > r.maxBytes {
		return true
	}
	y1, d1 := r.opened.Year(), r.opened.YearDay()
	now := time.Now()
	return y1 != now.Year() || d1 != now.YearDay()
}

func (r *FileRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	r.file = nil

	ext := filepath.Ext(r.path)
	rotated := strings.TrimSuffix(r.path, ext) + "-" + time.Now().Format(rotatedStamp) + ext
	if err := os.Rename(r.path, rotated); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("rename log file: %w", err)
	}
	if err := r.open(); err != nil {
		return err
	}

	select {
	case r.jobs <- rotated:
	default:
		// Housekeeping is behind; the next rotation prunes this file too.
	}
	return nil
}

func (r *FileRotator) housekeep() {
	defer r.wg.Done()
	for rotated := range r.jobs {
		if r.compress {
			gzipFile(rotated)
		}
		r.prune()
	}
}

func gzipFile(path string) {
	in, err := os.Open(path)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(path)
	_, err = io.Copy(gz, in)
	if cerr := gz.Close(); err == nil {
		err = cerr
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path + ".gz")
		return
	}
	os.Remove(path)
}

type rotatedFile struct {
	path string
	mod  time.Time
}

// rotatedFiles lists rotated siblings of the live file, oldest first.
func (r *FileRotator) rotatedFiles() ([]rotatedFile, error) {
	ext := filepath.Ext(r.path)
	matches, err := filepath.Glob(strings.TrimSuffix(r.path, ext) + "-*" + ext + "*")
	if err != nil {
		return nil, err
	}
	files := make([]rotatedFile, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, rotatedFile{path: m, mod: info.ModTime()})
	}
	slices.SortFunc(files, func(a, b rotatedFile) int { return a.mod.Compare(b.mod) })
	return files, nil
}

func (r *FileRotator) prune() {
	files, err := r.rotatedFiles()
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-r.maxAge)
	for i, f := range files {
		tooMany := r.maxBackups > 0 && len(files)-i > r.maxBackups
		tooOld := r.maxAge > 0 && f.mod.Before(cutoff)
		if tooMany || tooOld {
			os.Remove(f.path)
		}
	}
}

// Files returns the live log file followed by rotated ones, oldest first.
func (r *FileRotator) Files() ([]string, error) {
	files, err := r.rotatedFiles()
	out := []string{r.path}
	for _, f := range files {
		out = append(out, f.path)
	}
	return out, err
}

// Sync flushes the live file.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// Close closes the live file and waits for pending housekeeping.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	if r.file == nil {
		r.mu.Unlock()
		return nil
	}
	err := r.file.Close()
	r.file = nil
	close(r.jobs)
	r.mu.Unlock()

	r.wg.Wait()
	return err
}
