package nanoset

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ReaderOptions configure how readers prepare raw samples before they are
// queued.
type ReaderOptions struct {
	// Sanitize normalizes whitespace in the transcript text.
	Sanitize bool
	// Constants are injected into every sample's Extra fields.
	Constants map[string]string
}

// Reader pulls a disjoint partition of the sample source and pushes
// prepared samples onto the shared work queue. Reader i of n owns records
// i, i+n, i+2n, ... so no record is read twice or missed.
type Reader struct {
	ID    int
	Total int

	state   StateVar
	read    int64
	skipped int64
	failure error
}

// Read is the monotonically increasing count of samples this reader has
// queued.
func (r *Reader) Read() int64 {
	return atomic.LoadInt64(&r.read)
}

// Skipped counts malformed records this reader dropped.
func (r *Reader) Skipped() int64 {
	return atomic.LoadInt64(&r.skipped)
}

// State reports the reader's lifecycle state.
func (r *Reader) State() WorkerState {
	return r.state.State()
}

// Failure is the fatal error that terminated the reader early, if any.
func (r *Reader) Failure() error {
	return r.failure
}

// run iterates the reader's partition. A malformed record is skipped and
// counted; an unrecoverable source error terminates the partition early.
// Either way the reader's sentinel is always delivered, so the pipeline can
// reach completion instead of deadlocking.
func (r *Reader) run(src Source, q *Queue, opts ReaderOptions, log *logrus.Entry) {
	defer q.PutSentinel()
	defer r.state.MustTransition(Draining, Terminated)

	r.state.MustTransition(Starting, Running)
	defer r.state.MustTransition(Running, Draining)

	size := src.Size()
	for idx := r.ID; idx < size; idx += r.Total {
		sample, err := src.Record(idx)
		if errors.Is(err, ErrBadRecord) {
			atomic.AddInt64(&r.skipped, 1)
			log.WithField("record", idx).WithError(err).
				Warn("skipping malformed record")
			continue
		} else if err != nil {
			r.failure = err
			log.WithField("record", idx).WithError(err).
				Error("source failure, reader terminating early")
			return
		}
		prepare(sample, opts)
		q.Put(sample)
		atomic.AddInt64(&r.read, 1)
	}
}

// prepare applies the configured constant-field injection and optional text
// sanitization to a sample before it is handed off.
func prepare(sample *RawSample, opts ReaderOptions) {
	if opts.Sanitize {
		sample.Text = SanitizeText(sample.Text)
	}
	if len(opts.Constants) == 0 {
		return
	}
	if sample.Extra == nil {
		sample.Extra = make(map[string]string, len(opts.Constants))
	}
	for key, value := range opts.Constants {
		sample.Extra[key] = value
	}
}

// startReaders launches one goroutine per reader and returns the pool plus
// a WaitGroup that resolves when every partition is exhausted.
func startReaders(n int, src Source, q *Queue, opts ReaderOptions,
	log *logrus.Entry) ([]*Reader, *sync.WaitGroup) {
	readers := make([]*Reader, n)
	wg := &sync.WaitGroup{}
	for readerIdx := 0; readerIdx < n; readerIdx++ {
		reader := &Reader{ID: readerIdx, Total: n}
		readers[readerIdx] = reader
		wg.Add(1)
		go func() {
			defer wg.Done()
			reader.run(src, q, opts, log.WithField("reader", reader.ID))
		}()
	}
	return readers, wg
}
