// Package fsio loads codec inputs and writes codec outputs.
//
// Inputs are mapped read-only where the platform allows it so that large
// weight files are not copied onto the heap before being split. Outputs are
// written to a temporary sibling and renamed into place, so a failed run
// never leaves a partial file at the destination.
package fsio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrTooLarge reports a file that cannot be addressed as a single slice.
var ErrTooLarge = errors.New("file too large to map")

// File is a read-only view of a file's contents. Data is valid until Close.
type File struct {
	Data    []byte
	mmapped bool
}

// Mapped reports whether Data is backed by a memory mapping.
func (f *File) Mapped() bool { return f != nil && f.mmapped }

// Open loads path read-only. Empty files and platforms without mmap fall
// back to reading the file into memory. The returned file must be closed.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := st.Size()
	if size64 < 0 || size64 > math.MaxInt {
		return nil, fmt.Errorf("%s: %w", path, ErrTooLarge)
	}
	size := int(size64)
	if size == 0 {
		return &File{Data: []byte{}}, nil
	}

	if data, err := mmap(f, size); err == nil {
		return &File{Data: data, mmapped: true}, nil
	}

	data, err := readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return &File{Data: data}, nil
}

// Close releases the mapping, if any.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = munmap(f.Data)
	}
	f.Data = nil
	f.mmapped = false
	return err
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

// WriteFileAtomic writes src to path through a uniquely named temporary file
// in the same directory, syncs it and renames it over path.
func WriteFileAtomic(path string, src io.WriterTo) (err error) {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = src.WriteTo(f); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
