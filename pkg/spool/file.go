package spool

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	writeBufSize     = 64 * 1024
	defaultBlockSize = 64 * 1024
)

// FileStage stages lines in a private file, one statement per line.
type FileStage struct {
	path      string
	file      *os.File
	writer    *bufio.Writer
	blockSize int
	sealed    bool
	removed   bool
}

// CreateFile creates a new stage file in dir named base, or base.N when that
// name is taken. dir defaults to the OS temp directory.
func CreateFile(dir, base string) (*FileStage, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	for version := 0; ; version++ {
		name := base
		if version > 0 {
			name = fmt.Sprintf("%s.%d", base, version)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &FileStage{
			path:      path,
			file:      f,
			writer:    bufio.NewWriterSize(f, writeBufSize),
			blockSize: defaultBlockSize,
		}, nil
	}
}

// Name returns the file path.
func (s *FileStage) Name() string { return s.path }

// Append buffers one line.
func (s *FileStage) Append(_ context.Context, line string) error {
	if s.sealed {
		return errors.New("spool: append after replay")
	}
	if _, err := s.writer.WriteString(line); err != nil {
		return err
	}
	return s.writer.WriteByte('\n')
}

// seal flushes and closes the write handle.
func (s *FileStage) seal() error {
	if s.sealed {
		return nil
	}
	s.sealed = true
	if err := s.writer.Flush(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

// Reverse reads the file back to front in fixed-size blocks.
func (s *FileStage) Reverse(ctx context.Context, fn func(line string) error) error {
	if s.removed {
		return errors.New("spool: stage removed")
	}
	if err := s.seal(); err != nil {
		return err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}
	return reverseLines(ctx, f, st.Size(), s.blockSize, fn)
}

// Remove closes and deletes the file.
func (s *FileStage) Remove(context.Context) error {
	if s.removed {
		return nil
	}
	s.removed = true
	if !s.sealed {
		s.sealed = true
		_ = s.file.Close()
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// reverseLines emits the newline-separated lines of r[0:size] last first.
// Only one block plus the current partial line is held in memory.
func reverseLines(ctx context.Context, r io.ReaderAt, size int64, block int, fn func(string) error) error {
	if size == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := r.ReadAt(last, size-1); err != nil {
		return err
	}
	end := size
	if last[0] == '\n' {
		end--
	}

	buf := make([]byte, block)
	var partial []byte
	for off := end; off > 0; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := int64(block)
		if n > off {
			n = off
		}
		off -= n
		chunk := buf[:n]
		if _, err := r.ReadAt(chunk, off); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		data := make([]byte, 0, len(chunk)+len(partial))
		data = append(data, chunk...)
		data = append(data, partial...)
		for {
			i := bytes.LastIndexByte(data, '\n')
			if i < 0 {
				break
			}
			if err := fn(string(data[i+1:])); err != nil {
				return err
			}
			data = data[:i]
		}
		partial = data
	}
	if end > 0 {
		return fn(string(partial))
	}
	return nil
}
