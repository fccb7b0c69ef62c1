// Package storage defines the note collection file-system abstraction.
package storage

import "io/fs"

// File identifies one note file in the collection.
type File struct {
	Path    string // relative to the collection root, slash separated
	AbsPath string
}

// Provider is the interface for note collection file operations.
type Provider interface {
	// Root returns the absolute, symlink-resolved collection root.
	Root() string
	// List returns every note file under the root in lexical walk order.
	List() ([]File, error)
	// Read returns the raw bytes of the note at path (relative to root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to root).
	Write(path string, content []byte) error
	// Abs resolves path (relative to root) to an absolute path inside root.
	Abs(path string) (string, error)
}

// LinkFS is the subset of file-system operations the link materializer needs.
// Paths are absolute; link folders may live outside the collection root.
type LinkFS interface {
	MkdirAll(dir string) error
	Lstat(path string) (fs.FileInfo, error)
	Readlink(path string) (string, error)
	Symlink(target, link string) error
}
