// Package confine keeps user-supplied paths inside a root directory.
package confine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrOutsideRoot = errors.New("path outside project is not allowed")
	ErrInvalid     = errors.New("invalid path")
)

// CheckRelative rejects paths that could name anything outside the current
// directory without touching the filesystem: absolute or home-relative paths,
// Windows drive letters and UNC prefixes, and any ".." segment.
func CheckRelative(p string) error {
	if strings.ContainsRune(p, 0) {
		return ErrInvalid
	}
	if p == "" {
		return nil
	}
	switch p[0] {
	case '/', '\\', '~':
		return ErrOutsideRoot
	}
	if hasDriveLetter(p) {
		return ErrOutsideRoot
	}
	for _, seg := range strings.FieldsFunc(p, isSeparator) {
		if seg == ".." {
			return ErrOutsideRoot
		}
	}
	return nil
}

func hasDriveLetter(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isSeparator(r rune) bool { return r == '/' || r == '\\' }

// Root is an absolute, symlink-resolved directory.
type Root struct {
	dir string
}

func NewRoot(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", dir, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", dir, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", resolved, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", resolved)
	}
	return &Root{dir: resolved}, nil
}

func (r *Root) Dir() string { return r.dir }

// Resolve joins rel onto the root and follows symlinks. It fails with
// ErrOutsideRoot if the result escapes the root, and returns the
// os.Stat error (fs.ErrNotExist) if the target is missing.
func (r *Root) Resolve(rel string) (string, error) {
	if err := CheckRelative(rel); err != nil {
		return "", err
	}
	joined := filepath.Join(r.dir, filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", err
	}
	if !r.contains(resolved) {
		return "", ErrOutsideRoot
	}
	return resolved, nil
}

// CheckExisting is Resolve for arguments that may not name a file at all: a
// missing target is fine, an existing one must resolve inside the root.
func (r *Root) CheckExisting(rel string) error {
	_, err := r.Resolve(rel)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if errors.Is(err, ErrOutsideRoot) || errors.Is(err, ErrInvalid) {
		return err
	}
	// Names that are not paths at all (e.g. too long) are left to the command.
	return nil
}

func (r *Root) contains(p string) bool {
	rel, err := filepath.Rel(r.dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
