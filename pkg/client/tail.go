package client

import (
	"bytes"
	"fmt"
	"io"
)

const tailBufSize = 2048

// Tail writes the last maxLines lines of r (an io.ReadSeeker positioned
// anywhere) to w; maxLines == nil means "the whole document" (spec §8
// property 7). It returns the number of bytes written.
func Tail(r io.ReadSeeker, w io.Writer, maxLines *int) (int, error) {
	var start int64
	if maxLines != nil {
		pos, err := seekStart(r, *maxLines)
		if err != nil {
			return 0, err
		}
		start = pos
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return 0, err
	}

	buf := make([]byte, tailBufSize)
	total := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += n
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// seekStart finds the byte offset from which reading to EOF yields exactly
// the last maxLines lines, counting backward from the end. The final byte
// is excluded from line counting since a trailing '\n' does not start a
// new line.
func seekStart(r io.ReadSeeker, maxLines int) (int64, error) {
	end, err := r.Seek(-1, io.SeekEnd)
	if err != nil {
		if end, err = r.Seek(0, io.SeekEnd); err != nil {
			return 0, err
		}
	}
	remaining := end

	buf := make([]byte, tailBufSize)
	for remaining != 0 {
		n := int64(len(buf))
		if n > remaining {
			n = remaining
		}
		remaining -= n
		if _, err := r.Seek(remaining, io.SeekStart); err != nil {
			return 0, err
		}
		chunk := buf[:n]
		read, err := io.ReadFull(r, chunk)
		if err != nil {
			return 0, fmt.Errorf("client: tail: %w", err)
		}
		if int64(read) != n {
			return 0, fmt.Errorf("client: tail: short read")
		}
		if pos, ok := rcountLines(chunk, &maxLines); ok {
			return remaining + int64(pos) + 1, nil
		}
	}
	return 0, nil
}

// rcountLines scans chunk backward for newlines, decrementing maxLines per
// newline found; once maxLines reaches zero it reports the index of that
// newline (len(chunk) if maxLines was already zero). The caller adds one to
// get the offset the tail starts at.
func rcountLines(chunk []byte, maxLines *int) (int, bool) {
	if *maxLines == 0 {
		return len(chunk), true
	}
	rest := chunk
	for {
		idx := bytes.LastIndexByte(rest, '\n')
		if idx < 0 {
			return 0, false
		}
		*maxLines--
		if *maxLines == 0 {
			return idx, true
		}
		rest = rest[:idx]
	}
}
