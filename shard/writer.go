// Package shard implements the rotating, gzip-compressed jsonl output files
// the encoder workers write, plus discovery and validation of those files.
package shard

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"nanoset"
)

// Options configure a shard writer. Zero values fall back to the defaults
// below.
type Options struct {
	GzipLevel    int
	BufferSize   int
	LinesPerFile int
}

const (
	DefaultBufferSize   = 1 << 20
	DefaultLinesPerFile = 10000
)

// FileName builds the shard filename for a dataset prefix, owning worker,
// and file index. Worker identity in the name guarantees two workers can
// never collide, and the zero-padded index makes discovery order
// reproducible.
func FileName(prefix string, worker, index int) string {
	return fmt.Sprintf("%s-worker%02d-%05d.jsonl.gz", prefix, worker, index)
}

// Writer appends encoded samples to the current shard file and rotates to a
// new file once LinesPerFile records have been written. A closed shard is
// flushed and finalized; it is never reopened. Writer is owned by exactly
// one encoder worker and is not safe for concurrent use.
type Writer struct {
	dir    string
	prefix string
	worker int
	opts   Options

	fileIdx     int
	linesInFile int
	shards      int
	bytes       int64

	path string
	raw  *os.File
	buf  *bufio.Writer
	gz   *gzip.Writer
}

// NewWriter creates a writer for one worker's shards of one dataset. The
// first file is opened lazily on the first write, so a worker that receives
// no samples leaves no empty shard behind.
func NewWriter(dir, prefix string, worker int, opts Options) (*Writer, error) {
	if opts.GzipLevel == 0 {
		opts.GzipLevel = gzip.DefaultCompression
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.LinesPerFile <= 0 {
		opts.LinesPerFile = DefaultLinesPerFile
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Writer{
		dir:    dir,
		prefix: prefix,
		worker: worker,
		opts:   opts,
	}, nil
}

func (w *Writer) open() error {
	w.path = filepath.Join(w.dir, FileName(w.prefix, w.worker, w.fileIdx))
	raw, err := os.OpenFile(w.path, os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	buf := bufio.NewWriterSize(raw, w.opts.BufferSize)
	gz, err := gzip.NewWriterLevel(buf, w.opts.GzipLevel)
	if err != nil {
		raw.Close()
		return err
	}
	w.raw = raw
	w.buf = buf
	w.gz = gz
	w.linesInFile = 0
	return nil
}

// closeFile finalizes the current shard: the gzip stream is terminated, the
// buffer flushed, and the file closed, so the shard is independently
// readable from this point on.
func (w *Writer) closeFile() error {
	if w.raw == nil {
		return nil
	}
	gzErr := w.gz.Close()
	bufErr := w.buf.Flush()
	if stat, statErr := w.raw.Stat(); statErr == nil {
		w.bytes += stat.Size()
	}
	rawErr := w.raw.Close()
	w.raw = nil
	w.buf = nil
	w.gz = nil
	w.shards++
	if gzErr != nil {
		return gzErr
	}
	if bufErr != nil {
		return bufErr
	}
	return rawErr
}

// Write serializes one sample as a jsonl line into the current shard,
// rotating first if the previous shard is full.
func (w *Writer) Write(sample *nanoset.EncodedSample) error {
	if w.raw == nil {
		if err := w.open(); err != nil {
			return err
		}
	}
	line, err := json.Marshal(sample)
	if err != nil {
		return err
	}
	if _, err = w.gz.Write(line); err != nil {
		return err
	}
	if _, err = w.gz.Write([]byte{'\n'}); err != nil {
		return err
	}
	w.linesInFile++
	if w.linesInFile >= w.opts.LinesPerFile {
		if err = w.closeFile(); err != nil {
			return err
		}
		w.fileIdx++
	}
	return nil
}

// Close finalizes the in-progress shard, if any.
func (w *Writer) Close() error {
	return w.closeFile()
}

// Shards is the number of files finalized so far.
func (w *Writer) Shards() int {
	return w.shards
}

// Bytes is the combined on-disk size of the finalized shards.
func (w *Writer) Bytes() int64 {
	return w.bytes
}

// CurrentIndex is the index of the shard currently being written, for
// progress telemetry.
func (w *Writer) CurrentIndex() int {
	return w.fileIdx
}
