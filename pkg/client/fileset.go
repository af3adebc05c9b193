// Package client implements the daemon's TCP wire client and the
// log-reading helpers the CLI builds on (spec §2, §6 "Wire protocol",
// §8 properties 7-8).
package client

import (
	"fmt"
	"io"
	"os"
)

type fileInfo struct {
	start, size int64
}

// FileSet presents a sequence of files, oldest first, as a single seekable
// byte stream (spec §8 property 8). It is used to read a service's log
// history across rotation boundaries without concatenating the files on
// disk.
type FileSet struct {
	paths []string
	sizes []fileInfo
	total int64

	index   int
	current *os.File
	rpos    int64
}

// NewFileSet opens paths (already ordered oldest-to-newest) as one logical
// stream.
func NewFileSet(paths []string) (*FileSet, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("client: fileset: no files given")
	}
	sizes := make([]fileInfo, len(paths))
	var start int64
	for i, p := range paths {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		sizes[i] = fileInfo{start: start, size: st.Size()}
		start += st.Size()
	}
	f, err := os.Open(paths[0])
	if err != nil {
		return nil, err
	}
	return &FileSet{paths: paths, sizes: sizes, total: start, current: f}, nil
}

func (fs *FileSet) openIdx(idx int) error {
	if fs.index == idx {
		return nil
	}
	if idx < 0 || idx >= len(fs.paths) {
		return fmt.Errorf("client: fileset: index %d out of range", idx)
	}
	if fs.current != nil {
		_ = fs.current.Close()
	}
	f, err := os.Open(fs.paths[idx])
	if err != nil {
		return err
	}
	fs.current = f
	fs.index = idx
	fs.rpos = 0
	return nil
}

// openAt seeks to the global offset pos, clamping to the end of the set,
// and returns the actual global position reached.
func (fs *FileSet) openAt(pos int64) (int64, error) {
	remaining := pos
	for idx, s := range fs.sizes {
		if s.size < remaining {
			remaining -= s.size
			continue
		}
		if err := fs.openIdx(idx); err != nil {
			return 0, err
		}
		rpos, err := fs.current.Seek(remaining, io.SeekStart)
		if err != nil {
			return 0, err
		}
		fs.rpos = rpos
		return fs.sizes[fs.index].start + fs.rpos, nil
	}
	last := len(fs.paths) - 1
	if err := fs.openIdx(last); err != nil {
		return 0, err
	}
	rpos, err := fs.current.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	fs.rpos = rpos
	return fs.total, nil
}

func (fs *FileSet) position() int64 { return fs.rpos + fs.sizes[fs.index].start }

func (fs *FileSet) remainingInFile() int64 {
	r := fs.sizes[fs.index].size - fs.rpos
	if r < 0 {
		return 0
	}
	return r
}

// Read implements io.Reader, transparently crossing file boundaries.
func (fs *FileSet) Read(p []byte) (int, error) {
	limit := int64(len(p))
	if rem := fs.remainingInFile(); rem < limit {
		limit = rem
	}
	n, err := fs.current.Read(p[:limit])
	if err != nil && err != io.EOF {
		return n, err
	}
	fs.rpos += int64(n)
	if int64(n) == int64(len(p)) {
		return n, nil
	}
	if fs.index < len(fs.paths)-1 {
		if openErr := fs.openIdx(fs.index + 1); openErr != nil {
			return n, openErr
		}
		more, readErr := fs.Read(p[n:])
		return n + more, readErr
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Seek implements io.Seeker over the concatenated stream.
func (fs *FileSet) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		return fs.openAt(offset)
	case io.SeekEnd:
		return fs.openAt(fs.total + offset)
	case io.SeekCurrent:
		return fs.openAt(fs.position() + offset)
	default:
		return 0, fmt.Errorf("client: fileset: invalid whence %d", whence)
	}
}

// Close releases the currently open file.
func (fs *FileSet) Close() error {
	if fs.current == nil {
		return nil
	}
	return fs.current.Close()
}

// Size returns the total length of the concatenated stream.
func (fs *FileSet) Size() int64 { return fs.total }
