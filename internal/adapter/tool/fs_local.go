package tool

import (
	"io"
	"os"
)

// LocalFilesystemBackend performs file I/O on the local filesystem.
type LocalFilesystemBackend struct{}

// NewLocalFilesystemBackend creates a local filesystem backend.
func NewLocalFilesystemBackend() *LocalFilesystemBackend {
	return &LocalFilesystemBackend{}
}

func (b *LocalFilesystemBackend) Name() string { return "local" }

func (b *LocalFilesystemBackend) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (b *LocalFilesystemBackend) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (b *LocalFilesystemBackend) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (b *LocalFilesystemBackend) AppendFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (b *LocalFilesystemBackend) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (b *LocalFilesystemBackend) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (b *LocalFilesystemBackend) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (b *LocalFilesystemBackend) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (b *LocalFilesystemBackend) Remove(path string) error {
	return os.Remove(path)
}
