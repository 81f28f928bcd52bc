package tool

import (
	"io"
	"os"
)

// FilesystemBackend abstracts the file I/O used by the files tool.
type FilesystemBackend interface {
	// ReadFile reads the named file and returns its contents.
	ReadFile(path string) ([]byte, error)
	// Open opens the named file for reading.
	Open(path string) (io.ReadCloser, error)
	// WriteFile writes data to the named file with the given permissions.
	WriteFile(path string, data []byte, perm os.FileMode) error
	// AppendFile appends data to the named file, creating it if absent.
	AppendFile(path string, data []byte, perm os.FileMode) error
	// ReadDir reads the named directory and returns its entries.
	ReadDir(path string) ([]os.DirEntry, error)
	// Stat returns file metadata.
	Stat(path string) (os.FileInfo, error)
	// MkdirAll creates a directory and any missing parents.
	MkdirAll(path string, perm os.FileMode) error
	// Rename moves a file or directory.
	Rename(oldPath, newPath string) error
	// Remove deletes a file or empty directory.
	Remove(path string) error
	// Name returns the backend identifier (e.g. "local").
	Name() string
}
