package scanner

import (
	"io/fs"
	"strings"
)

// PathFilter decides whether a directory entry participates in scanning.
// Entries it rejects are invisible to the walk: their markers are neither
// classified nor counted as still present.
type PathFilter func(path string, entry fs.DirEntry) bool

// AcceptAll is the default filter.
func AcceptAll(string, fs.DirEntry) bool { return true }

// IgnoreHidden rejects dotfiles and dot-directories.
func IgnoreHidden(_ string, entry fs.DirEntry) bool {
	return !strings.HasPrefix(entry.Name(), ".")
}
