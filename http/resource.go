package http

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/freekieb7/hopper/filesystem"
)

// Resource is one multipart part or a spooled request body. Small field values
// stay in memory; file parts and anything above the memory ceiling go to a
// temporary file.
type Resource struct {
	Field       string // form field name, empty for a spooled body
	Filename    string
	ContentType string
	Headers     Headers

	// Size is the number of content bytes received so far.
	Size int64

	fs       filesystem.Filesystem
	dir      string
	memLimit int64

	mem  []byte
	file *os.File
	path string

	finished bool
	claimed  bool
}

func newResource(fs filesystem.Filesystem, dir string, memLimit int64) *Resource {
	return &Resource{
		Headers:  Headers{},
		fs:       fs,
		dir:      dir,
		memLimit: memLimit,
	}
}

// InMemory reports whether the content is held in memory.
func (res *Resource) InMemory() bool {
	return res.file == nil && res.path == ""
}

// Path is the temporary file of a disk-backed resource.
func (res *Resource) Path() string {
	return res.path
}

func (res *Resource) Write(p []byte) (int, error) {
	if res.finished {
		return 0, ErrResourceClosed
	}
	if res.InMemory() && (res.Filename != "" || int64(len(res.mem)+len(p)) > res.memLimit) {
		if err := res.spill(); err != nil {
			return 0, err
		}
	}

	if res.file != nil {
		n, err := res.file.Write(p)
		res.Size += int64(n)
		return n, err
	}

	res.mem = append(res.mem, p...)
	res.Size += int64(len(p))
	return len(p), nil
}

// spill moves the buffered content to a new temporary file.
func (res *Resource) spill() error {
	file, err := res.fs.CreateTemp(res.dir, "hopper-")
	if err != nil {
		return err
	}
	res.file = file
	res.path = file.Name()
	if len(res.mem) > 0 {
		if _, err := file.Write(res.mem); err != nil {
			return err
		}
	}
	res.mem = nil
	return nil
}

// Finish closes the temporary file. Later writes fail.
func (res *Resource) Finish() error {
	if res.finished {
		return nil
	}
	res.finished = true
	if res.file != nil {
		err := res.file.Close()
		res.file = nil
		return err
	}
	return nil
}

// Bytes returns the content of an in-memory resource.
func (res *Resource) Bytes() []byte {
	return res.mem
}

// Open returns a reader over the content.
func (res *Resource) Open() (io.ReadCloser, error) {
	if res.path == "" {
		return io.NopCloser(bytes.NewReader(res.mem)), nil
	}
	if !res.finished {
		if err := res.Finish(); err != nil {
			return nil, err
		}
	}
	return res.fs.Open(res.path)
}

// Claim takes ownership of the content by moving it to dst. The connection no
// longer deletes a claimed resource.
func (res *Resource) Claim(dst string) error {
	if err := res.Finish(); err != nil {
		return err
	}
	if res.path == "" {
		if err := res.spill(); err != nil {
			return err
		}
		if err := res.file.Close(); err != nil {
			return err
		}
		res.file = nil
	}
	if err := res.fs.Move(res.path, dst); err != nil {
		return err
	}
	res.path = dst
	res.claimed = true
	return nil
}

// Remove deletes the temporary file unless the resource was claimed.
func (res *Resource) Remove() error {
	err := res.Finish()
	res.mem = nil
	if res.claimed || res.path == "" {
		return err
	}
	path := res.path
	res.path = ""
	return errors.Join(err, res.fs.Remove(path))
}
