package input

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/PlainsightAI/filter-stub-application/internal/config"
	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/internal/logger"
)

// sniffSize is how far into the file we look for a leading '['.
const sniffSize = 4096

// EchoReader streams events from a newline-delimited JSON file.
// A file whose first non-space byte is '[' is read as a JSON array instead.
// The file stays open until Close.
type EchoReader struct {
	path   string
	policy config.MalformedPolicy

	file   *os.File
	reader *bufio.Reader
	line   int

	arrayMode bool
	arrayData []byte
	arrayDec  *json.Decoder
	arrayDone bool

	skipped int
}

// OpenEcho opens an events file for replay.
func OpenEcho(path string, policy config.MalformedPolicy) (*EchoReader, error) {
	if policy == "" {
		policy = config.PolicySkip
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errhandling.NewIOError("open events file", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errhandling.NewIOError("stat events file", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, errhandling.NewIOError("open events file", path, fmt.Errorf("is a directory"))
	}

	r := &EchoReader{path: path, policy: policy, file: f}
	if err := r.start(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// start positions the reader at the beginning of the file and detects its layout.
func (r *EchoReader) start() error {
	r.reader = bufio.NewReaderSize(r.file, 64*1024)
	r.line = 0
	r.arrayMode = false
	r.arrayData = nil
	r.arrayDec = nil
	r.arrayDone = false

	head, err := r.reader.Peek(sniffSize)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return errhandling.NewIOError("read events file", r.path, err)
	}
	trimmed := bytes.TrimLeft(head, " \t\r\n\ufeff")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil
	}

	data, err := io.ReadAll(r.reader)
	if err != nil {
		return errhandling.NewIOError("read events file", r.path, err)
	}
	if !json.Valid(bytes.TrimPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte("\ufeff"))) && firstLineComplete(data) {
		// Several top-level values, one per line: NDJSON whose first event is an array.
		r.reader = bufio.NewReaderSize(bytes.NewReader(data), 64*1024)
		return nil
	}
	r.arrayMode = true
	r.arrayData = data
	r.arrayDec = json.NewDecoder(bytes.NewReader(data))
	r.arrayDec.UseNumber()
	if _, err := r.arrayDec.Token(); err != nil {
		return r.malformed(1, err)
	}
	return nil
}

// Path returns the events file path.
func (r *EchoReader) Path() string {
	return r.path
}

// Line returns the number of the last line read (NDJSON layout only).
func (r *EchoReader) Line() int {
	return r.line
}

// Skipped returns how many malformed lines were skipped since opening.
func (r *EchoReader) Skipped() int {
	return r.skipped
}

// Next returns the next event, ErrEndOfStream at the end of the file, or a
// malformed-line error when the policy is fail.
func (r *EchoReader) Next() (interface{}, error) {
	if r.file == nil {
		return nil, errhandling.NewIOError("read events file", r.path, os.ErrClosed)
	}
	if r.arrayMode {
		return r.nextElement()
	}

	for {
		raw, err := r.reader.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, errhandling.NewIOError("read events file", r.path, err)
		}
		if len(raw) == 0 && errors.Is(err, io.EOF) {
			return nil, ErrEndOfStream
		}
		r.line++

		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			if errors.Is(err, io.EOF) {
				return nil, ErrEndOfStream
			}
			continue
		}

		event, decodeErr := decodeEvent(trimmed)
		if decodeErr == nil {
			return event, nil
		}
		if malformedErr := r.malformed(r.line, decodeErr); malformedErr != nil {
			return nil, malformedErr
		}
	}
}

func (r *EchoReader) nextElement() (interface{}, error) {
	if r.arrayDone || !r.arrayDec.More() {
		r.arrayDone = true
		return nil, ErrEndOfStream
	}

	var event interface{}
	if err := r.arrayDec.Decode(&event); err != nil {
		// The decoder cannot resynchronize inside an array.
		r.arrayDone = true
		line := lineAt(r.arrayData, int(r.arrayDec.InputOffset()))
		if malformedErr := r.malformed(line, err); malformedErr != nil {
			return nil, malformedErr
		}
		return nil, ErrEndOfStream
	}
	return event, nil
}

// lineAt returns the 1-based line of the first non-space byte at or after offset.
func lineAt(data []byte, offset int) int {
	offset = min(offset, len(data))
	for offset < len(data) && (data[offset] == ' ' || data[offset] == '\t' || data[offset] == '\r' || data[offset] == '\n') {
		offset++
	}
	return 1 + bytes.Count(data[:offset], []byte{'\n'})
}

// malformed applies the policy to a bad line. It returns the error to
// surface under the fail policy and nil when the line is skipped.
func (r *EchoReader) malformed(line int, cause error) error {
	err := errhandling.NewMalformedLineError(r.path, line, cause)
	if r.policy == config.PolicyFail {
		return err
	}
	r.skipped++
	logger.WithModule("input", "echo").Warn("skipping malformed event",
		slog.String("path", r.path),
		slog.Int("line", line),
		slog.String("error", cause.Error()))
	return nil
}

// Rewind moves back to the first event.
func (r *EchoReader) Rewind() error {
	if r.file == nil {
		return errhandling.NewIOError("rewind events file", r.path, os.ErrClosed)
	}
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return errhandling.NewIOError("rewind events file", r.path, err)
	}
	return r.start()
}

// Close closes the events file. It is safe to call more than once.
func (r *EchoReader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.reader = nil
	r.arrayDec = nil
	if err != nil {
		return errhandling.NewIOError("close events file", r.path, err)
	}
	return nil
}

// firstLineComplete reports whether the first non-blank line holds a whole JSON value.
func firstLineComplete(data []byte) bool {
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line, data = data[:i], data[i+1:]
		} else {
			data = nil
		}
		if trimmed := bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(line), []byte("\ufeff"))); len(trimmed) > 0 {
			return json.Valid(trimmed)
		}
	}
	return false
}

// decodeEvent parses exactly one JSON value, keeping number literals intact.
func decodeEvent(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var event interface{}
	if err := dec.Decode(&event); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return event, nil
}

// EchoSource replays an events file, optionally looping back to the start.
type EchoSource struct {
	reader *EchoReader
	loop   bool
	// valid counts events returned since the last rewind.
	valid int
}

// NewEchoSource opens path and returns a source over it.
func NewEchoSource(path string, policy config.MalformedPolicy, loop bool) (*EchoSource, error) {
	r, err := OpenEcho(path, policy)
	if err != nil {
		return nil, err
	}
	return &EchoSource{reader: r, loop: loop}, nil
}

// Next returns the next event. At the end of the file it rewinds when
// looping, unless the pass just completed produced no valid event.
func (s *EchoSource) Next(ctx context.Context) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	event, err := s.reader.Next()
	if err == nil {
		s.valid++
		return event, nil
	}
	if !errors.Is(err, ErrEndOfStream) || !s.loop || s.valid == 0 {
		return nil, err
	}

	logger.WithModule("input", "echo").Debug("rewinding events file",
		slog.String("path", s.reader.Path()),
		slog.Int("events_in_pass", s.valid))
	if err := s.reader.Rewind(); err != nil {
		return nil, err
	}
	s.valid = 0

	event, err = s.reader.Next()
	if err == nil {
		s.valid++
	}
	return event, err
}

// Position returns the number of events returned since the last rewind.
func (s *EchoSource) Position() int64 {
	return int64(s.valid)
}

// Seek rewinds the file and discards the first position events. Malformed
// lines are not counted and do not stop the seek.
func (s *EchoSource) Seek(ctx context.Context, position int64) (int64, error) {
	if err := s.reader.Rewind(); err != nil {
		return 0, err
	}
	s.valid = 0
	for int64(s.valid) < position {
		if err := ctx.Err(); err != nil {
			return int64(s.valid), err
		}
		_, err := s.reader.Next()
		switch {
		case err == nil:
			s.valid++
		case errors.Is(err, ErrEndOfStream):
			return int64(s.valid), nil
		case errhandling.IsMalformedLine(err):
			continue
		default:
			return int64(s.valid), err
		}
	}
	return int64(s.valid), nil
}

// Close closes the events file.
func (s *EchoSource) Close() error {
	return s.reader.Close()
}

var (
	_ Module    = (*EchoSource)(nil)
	_ Resumable = (*EchoSource)(nil)
)
