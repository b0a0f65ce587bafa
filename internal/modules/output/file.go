package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/pathutil"
)

const filePerm = 0o644

// FileOptions configures a FileEmitter.
type FileOptions struct {
	// Truncate empties the file once at open instead of appending to it.
	Truncate bool
}

// FileEmitter appends events to a newline-delimited JSON file.
// Each Emit writes one complete line in a single write and syncs it.
type FileEmitter struct {
	path  string
	file  *os.File
	lines int64
	bytes int64
}

// OpenFileEmitter creates missing parent directories and opens path for appending.
func OpenFileEmitter(path string, opts FileOptions) (*FileEmitter, error) {
	if dir, err := pathutil.EnsureParentDir(path); err != nil {
		return nil, errhandling.NewIOError("create output directory", dir, err)
	}

	flags := os.O_APPEND | os.O_CREATE | os.O_WRONLY
	if opts.Truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, filePerm)
	if err != nil {
		return nil, errhandling.NewIOError("open output file", path, err)
	}
	return &FileEmitter{path: path, file: f}, nil
}

// Path returns the output file path.
func (e *FileEmitter) Path() string {
	return e.path
}

// Lines returns the number of events written since opening.
func (e *FileEmitter) Lines() int64 {
	return e.lines
}

// Bytes returns the number of bytes written since opening.
func (e *FileEmitter) Bytes() int64 {
	return e.bytes
}

// Emit appends one event. Encoding failures leave the file untouched;
// write and sync failures are I/O errors.
func (e *FileEmitter) Emit(event interface{}) error {
	line, err := EncodeLine(event)
	if err != nil {
		return err
	}
	_, err = e.write(line)
	return err
}

func (e *FileEmitter) write(line []byte) (int, error) {
	if e.file == nil {
		return 0, errhandling.NewIOError("write output file", e.path, os.ErrClosed)
	}
	n, err := e.file.Write(line)
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return n, errhandling.NewIOError("write output file", e.path, err)
	}
	if err := e.file.Sync(); err != nil {
		return n, errhandling.NewIOError("sync output file", e.path, err)
	}
	e.lines++
	e.bytes += int64(n)
	return n, nil
}

// Send implements Module.
func (e *FileEmitter) Send(_ context.Context, event interface{}) error {
	return e.Emit(event)
}

// Close closes the file. It is safe to call more than once.
func (e *FileEmitter) Close() error {
	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file = nil
	if err != nil {
		return errhandling.NewIOError("close output file", e.path, err)
	}
	return nil
}

// Emit opens path, appends one event and closes it again.
func Emit(path string, event interface{}) error {
	e, err := OpenFileEmitter(path, FileOptions{})
	if err != nil {
		return err
	}
	if err := e.Emit(event); err != nil {
		_ = e.Close()
		return err
	}
	return e.Close()
}

// EncodeLine renders event as one line of JSON terminated by '\n'.
// HTML characters are not escaped.
func EncodeLine(event interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(event); err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return buf.Bytes(), nil
}

var _ Module = (*FileEmitter)(nil)
