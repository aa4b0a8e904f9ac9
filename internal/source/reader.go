// Package source gives the model read-only access to files under a configured root.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	DefaultReadLines = 200
	MaxReadLines     = 500
	MaxLineLength    = 2000
	MaxListEntries   = 200
)

var (
	ErrOutsideRoot = errors.New("path outside source root")
	ErrNotFound    = errors.New("file not found")
	ErrHidden      = errors.New("path is hidden or excluded")
)

var skipDirs = []string{"node_modules", "vendor", "__pycache__", ".git", "dist", "build"}

type Reader struct {
	root string
}

func NewReader(root string) (*Reader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve source root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source root %s is not a directory", abs)
	}
	return &Reader{root: abs}, nil
}

func (r *Reader) Root() string {
	return r.root
}

// Read returns up to limit lines of path starting at the 1-indexed offset, numbered
// cat -n style. A directory path yields its listing instead.
func (r *Reader) Read(path string, offset, limit int) (string, error) {
	full, err := r.resolve(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return r.list(full)
	}

	file, err := os.Open(full)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if offset < 1 {
		offset = 1
	}
	if limit < 1 {
		limit = DefaultReadLines
	}
	if limit > MaxReadLines {
		limit = MaxReadLines
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var result strings.Builder
	lineNum := 0
	linesRead := 0

	for scanner.Scan() {
		lineNum++
		if lineNum < offset {
			continue
		}
		if linesRead >= limit {
			continue // keep counting so the footer knows the file length
		}

		line := scanner.Text()
		if len(line) > MaxLineLength {
			line = line[:MaxLineLength] + "..."
		}
		fmt.Fprintf(&result, "%6d\t%s\n", lineNum, line)
		linesRead++
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	if linesRead == 0 {
		if lineNum == 0 {
			return "File is empty", nil
		}
		return fmt.Sprintf("No lines at offset %d (file has %d lines)", offset, lineNum), nil
	}

	last := offset + linesRead - 1
	fmt.Fprintf(&result, "\n[Read lines %d-%d of %s", offset, last, r.rel(full))
	if lineNum > last {
		fmt.Fprintf(&result, ". File continues to line %d.]", lineNum)
	} else {
		result.WriteString(". End of file.]")
	}

	return result.String(), nil
}

func (r *Reader) list(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", r.rel(dir), err)
	}

	var names []string
	for _, e := range entries {
		if shouldSkip(e.Name()) {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	truncated := false
	if len(names) > MaxListEntries {
		names = names[:MaxListEntries]
		truncated = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Directory %s (%d entries):\n", r.rel(dir), len(names))
	for _, n := range names {
		sb.WriteString(n)
		sb.WriteString("\n")
	}
	if truncated {
		sb.WriteString("[listing truncated]\n")
	}
	return sb.String(), nil
}

// resolve maps a model-supplied path onto the filesystem, refusing anything that
// escapes the root (including through symlinks) or that sits in an excluded directory.
func (r *Reader) resolve(path string) (string, error) {
	path = strings.TrimPrefix(filepath.Clean("/"+path), "/")
	full := filepath.Join(r.root, path)

	if !pathWithinRoot(r.root, full) {
		return "", ErrOutsideRoot
	}

	if resolved, err := filepath.EvalSymlinks(full); err == nil {
		if !pathWithinRoot(r.root, resolved) {
			return "", ErrOutsideRoot
		}
	}

	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if shouldSkip(part) {
			return "", fmt.Errorf("%s: %w", path, ErrHidden)
		}
	}

	return full, nil
}

func (r *Reader) rel(full string) string {
	rel, err := filepath.Rel(r.root, full)
	if err != nil || rel == "." {
		return "/"
	}
	return rel
}

func shouldSkip(name string) bool {
	if name == "" || name == "." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	for _, skip := range skipDirs {
		if name == skip {
			return true
		}
	}
	return false
}

func pathWithinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
