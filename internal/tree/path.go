package tree

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Root is the path of the project root directory.
const Root = "/"

// Clean normalizes a project-relative path: forward slashes, a leading
// slash, no trailing slash, no "." or ".." segments.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean("/" + p)
}

// Split returns the parent directory and final name of a clean path.
func Split(p string) (parent, name string) {
	p = Clean(p)
	if p == Root {
		return Root, ""
	}
	i := strings.LastIndexByte(p, '/')
	if i == 0 {
		return Root, p[1:]
	}
	return p[:i], p[i+1:]
}

// Join appends name to a clean directory path.
func Join(dir, name string) string {
	if dir == Root {
		return Root + name
	}
	return dir + "/" + name
}

// Segments returns the names along a clean path, root excluded.
func Segments(p string) []string {
	p = Clean(p)
	if p == Root {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// Depth returns the number of segments in p.
func Depth(p string) int { return len(Segments(p)) }

// Within reports whether p is dir or lies below it.
func Within(p, dir string) bool {
	p, dir = Clean(p), Clean(dir)
	if dir == Root || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// ToOS maps a project path to a file system path below root.
func ToOS(root, p string) string {
	return filepath.Join(root, filepath.FromSlash(Clean(p)))
}

// FromOS maps a file system path below root to a project path.
func FromOS(root, name string) (string, error) {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("tree: %s is outside %s", name, root)
	}
	return Clean(rel), nil
}
