package scheduler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/PlainsightAI/filter-stub-application/internal/errhandling"
	"github.com/PlainsightAI/filter-stub-application/pkg/frame"
)

// Upstream supplies the frames received from the previous stage for each cycle.
type Upstream interface {
	// Next returns the frames for the next cycle. A source with nothing
	// left returns nil frames and a nil error.
	Next(ctx context.Context) ([]frame.Frame, error)
}

// NoUpstream never supplies frames.
type NoUpstream struct{}

// Next returns no frames.
func (NoUpstream) Next(context.Context) ([]frame.Frame, error) {
	return nil, nil
}

// NDJSONUpstream reads one batch of frames per line from a file. Each line
// is a JSON array of frames, e.g.
//
//	[{"topic": "main", "data": {"test": "data"}}, {"topic": "image", "image": "AQID", "format": "RGB"}]
//
// Image bytes are base64 encoded. Blank lines are empty batches.
type NDJSONUpstream struct {
	path   string
	file   *os.File
	reader *bufio.Reader
	line   int
	done   bool
}

// OpenNDJSONUpstream opens path for reading.
func OpenNDJSONUpstream(path string) (*NDJSONUpstream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errhandling.NewIOError("open upstream frames file", path, err)
	}
	return &NDJSONUpstream{path: path, file: f, reader: bufio.NewReader(f)}, nil
}

// Next returns the next batch. A malformed line is reported as an error
// carrying its line number; the following call continues with the next line.
func (u *NDJSONUpstream) Next(ctx context.Context) ([]frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if u.done || u.file == nil {
		return nil, nil
	}

	raw, err := u.reader.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errhandling.NewIOError("read upstream frames file", u.path, err)
	}
	if errors.Is(err, io.EOF) {
		u.done = true
		if len(raw) == 0 {
			return nil, nil
		}
	}
	u.line++

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var frames []frame.Frame
	if err := json.Unmarshal(raw, &frames); err != nil {
		return nil, errhandling.NewMalformedLineError(u.path, u.line, fmt.Errorf("frames line: %w", err))
	}
	return frames, nil
}

// Close closes the file. It is safe to call more than once.
func (u *NDJSONUpstream) Close() error {
	if u.file == nil {
		return nil
	}
	err := u.file.Close()
	u.file = nil
	if err != nil {
		return errhandling.NewIOError("close upstream frames file", u.path, err)
	}
	return nil
}
