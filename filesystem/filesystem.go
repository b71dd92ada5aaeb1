package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var (
	ErrFileNotFound      = errors.New("filesystem: file not found")
	ErrFileAlreadyExists = errors.New("filesystem: file already exists")
	ErrInvalidPath       = errors.New("filesystem: invalid path")
)

const (
	dirPerm  = 0o770
	filePerm = 0o600
)

// Filesystem stores spooled request bodies and uploaded file parts.
type Filesystem interface {
	// CreateTemp creates a new file with a unique name in dir, creating dir
	// when needed. An empty dir means os.TempDir.
	CreateTemp(dir, prefix string) (*os.File, error)
	Open(path string) (*os.File, error)
	// Move relocates path to dst and never overwrites dst.
	Move(path, dst string) error
	// Remove deletes path. A missing file is not an error.
	Remove(path string) error
	Size(path string) (int64, error)
}

// Local is a Filesystem on the local disk.
type Local struct{}

func NewLocalFileSystem() Filesystem {
	return Local{}
}

func (Local) CreateTemp(dir, prefix string) (*os.File, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, prefix+uuid.NewString()), os.O_RDWR|os.O_CREATE|os.O_EXCL, filePerm)
}

func (Local) Open(path string) (*os.File, error) {
	file, err := os.Open(path)
	return file, notFound(err, path)
}

func (Local) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (Local) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, notFound(err, path)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", ErrInvalidPath, path)
	}
	return info.Size(), nil
}

// Move renames path and falls back to copy and remove when the rename fails,
// as it does across devices.
func (l Local) Move(path, dst string) error {
	if err := checkPair(path, dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return err
	}
	if err := os.Rename(path, dst); err == nil {
		return nil
	}
	if err := copyFile(path, dst); err != nil {
		return err
	}
	return os.Remove(path)
}

// checkPair rejects empty or identical paths and an existing destination.
func checkPair(src, dst string) error {
	if src == "" || dst == "" {
		return ErrInvalidPath
	}
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return err
	}
	if absSrc == absDst {
		return fmt.Errorf("%w: source and destination are the same file", ErrInvalidPath)
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s", ErrFileAlreadyExists, dst)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return notFound(err, src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
		if err != nil {
			os.Remove(dst)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func notFound(err error, path string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return err
}
