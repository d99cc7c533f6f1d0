// Package project serves read-only file contents from a confined directory.
package project

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/af-corp/pplx-bridge/internal/config"
	"github.com/af-corp/pplx-bridge/internal/confine"
)

var (
	// ErrInvalidPath covers empty, absolute and traversing paths and
	// directories. The handler maps it to 400.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotFound maps to 404.
	ErrNotFound = errors.New("file not found")
)

type Redactor interface {
	Redact(text string) string
}

// File is the response body of a file read.
type File struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated"`
}

type Reader struct {
	root     *confine.Root
	maxBytes int64
	redactor Redactor
}

// NewReader opens the project root. redactor may be nil.
func NewReader(cfg config.ProjectConfig, redactor Redactor) (*Reader, error) {
	root, err := confine.NewRoot(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("project root: %w", err)
	}
	return &Reader{root: root, maxBytes: cfg.MaxFileBytes, redactor: redactor}, nil
}

func (r *Reader) Root() string { return r.root.Dir() }

// Read returns at most maxBytes of the file at rel. Size is the full size on
// disk; Truncated reports whether content was cut.
func (r *Reader) Read(rel string) (*File, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidPath)
	}

	resolved, err := r.root.Resolve(rel)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, ErrNotFound
	case errors.Is(err, confine.ErrOutsideRoot):
		return nil, fmt.Errorf("%w: path outside project is not allowed", ErrInvalidPath)
	case errors.Is(err, confine.ErrInvalid):
		return nil, fmt.Errorf("%w: path contains invalid characters", ErrInvalidPath)
	case err != nil:
		return nil, fmt.Errorf("resolve %s: %w", rel, err)
	}

	f, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: path is a directory", ErrInvalidPath)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file", ErrInvalidPath)
	}

	data, err := io.ReadAll(io.LimitReader(f, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	truncated := int64(len(data)) > r.maxBytes
	if truncated {
		data = trimPartialRune(data[:r.maxBytes])
	}

	content := string(data)
	if r.redactor != nil {
		content = r.redactor.Redact(content)
	}
	return &File{
		Path:      filepath.ToSlash(filepath.Clean(rel)),
		Content:   content,
		Size:      info.Size(),
		Truncated: truncated,
	}, nil
}

// trimPartialRune drops an incomplete UTF-8 sequence left by the byte cap.
func trimPartialRune(b []byte) []byte {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i]
			}
			break
		}
	}
	return b
}
